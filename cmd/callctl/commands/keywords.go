package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/keywords"
	"freight_ops_backend/internal/callevents/scoring"
	"freight_ops_backend/internal/callevents/transport"

	"github.com/spf13/cobra"
)

// NewKeywordsCmd creates the keywords command group.
func NewKeywordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Work with keyword intent rules",
	}
	cmd.AddCommand(newKeywordsTestCmd())
	return cmd
}

type keywordTestOptions struct {
	pattern       string
	matchType     string
	caseSensitive bool
	weight        float64
	text          string
	file          string
}

func newKeywordsTestCmd() *cobra.Command {
	opts := &keywordTestOptions{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Dry-run a keyword rule against sample text",
		Long: `Evaluate one rule against text with the same matcher the pipeline uses.
No database access is needed. An invalid regex is reported as skipped.

Examples:
  callctl keywords test --pattern "double brokering" --text "is this double brokering?"
  callctl keywords test --type regex --pattern "MC ?\d{6}" --file transcript.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeywordsTest(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Rule pattern (required)")
	cmd.Flags().StringVar(&opts.matchType, "type", string(domain.MatchContains), "Match type: contains, exact or regex")
	cmd.Flags().BoolVar(&opts.caseSensitive, "case-sensitive", false, "Match case exactly")
	cmd.Flags().Float64Var(&opts.weight, "weight", 0.5, "Rule weight between 0 and 1")
	cmd.Flags().StringVar(&opts.text, "text", "", "Sample text")
	cmd.Flags().StringVar(&opts.file, "file", "", "Read sample text from file (- for stdin)")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func runKeywordsTest(stdin io.Reader, out io.Writer, opts *keywordTestOptions) error {
	switch domain.MatchType(opts.matchType) {
	case domain.MatchContains, domain.MatchExact, domain.MatchRegex:
	default:
		return fmt.Errorf("unknown match type %q", opts.matchType)
	}
	if opts.weight < 0 || opts.weight > 1 {
		return fmt.Errorf("weight must be between 0 and 1")
	}

	text := opts.text
	switch opts.file {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	default:
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("sample text is required (--text or --file)")
	}

	rule := domain.KeywordRule{
		Pattern:       opts.pattern,
		MatchType:     domain.MatchType(opts.matchType),
		CaseSensitive: opts.caseSensitive,
		Weight:        opts.weight,
		IsActive:      true,
	}
	matched, err := keywords.Evaluate(rule, text)
	resp := transport.KeywordTestResponse{Matched: matched, ScoreFloor: scoring.KeywordFloor(opts.weight)}
	if err != nil {
		resp.Skipped = true
		resp.Reason = err.Error()
	}
	return printJSON(out, resp)
}
