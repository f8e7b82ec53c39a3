package commands

import (
	"fmt"
	"strings"

	"freight_ops_backend/internal/callevents"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/internal/events"
	"freight_ops_backend/internal/scheduler"
	"freight_ops_backend/platform/ai/provider"
	"freight_ops_backend/platform/db"
	"freight_ops_backend/platform/validator"

	"github.com/spf13/cobra"
)

var replayInline bool

// NewReplayCmd creates the replay command.
func NewReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <conversation-id>",
		Short: "Re-run the pipeline for a stored call event",
		Long: `Re-run the pipeline over the stored raw payload of a conversation.

By default the replay is queued for the scheduler worker (REDIS_URL required).
With --inline the pipeline runs in this process and the result is printed.
Daily counters increment again on every replay.

Examples:
  callctl replay conv_8f2d1c
  callctl replay --inline conv_8f2d1c`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}

	cmd.Flags().BoolVar(&replayInline, "inline", false, "Run the pipeline in this process instead of enqueueing")

	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	conversationID := strings.TrimSpace(args[0])
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.Close()

	if !replayInline {
		client, err := scheduler.NewClient(e.cfg)
		if err != nil {
			return fmt.Errorf("replay queue: %w", err)
		}
		defer client.Close()

		taskID, err := client.EnqueueReplay(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("enqueue replay: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued replay %s for %s\n", taskID, conversationID)
		return nil
	}

	rdb, err := db.NewRedis(ctx, e.cfg)
	if err != nil {
		e.log.Warn("redis unavailable; carrier cache disabled", "error", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}
	completer, err := provider.New(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}

	bus := events.NewInMemoryBus(e.log)
	defer bus.Wait()

	module, err := callevents.NewModule(repository.New(e.pool), e.cfg, bus, validator.New(), e.log, callevents.Options{
		Completer: completer,
		Redis:     rdb,
	})
	if err != nil {
		return err
	}

	result, err := module.Service().Replay(ctx, conversationID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
