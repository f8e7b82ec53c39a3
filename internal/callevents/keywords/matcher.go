// Package keywords evaluates agency keyword rules against transcripts.
// Rules run in stored order and the first match wins.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

// ErrUnknownMatchType is returned by Evaluate for unsupported match types.
var ErrUnknownMatchType = errors.New("unknown match type")

// Repository is the storage the matcher needs.
type Repository interface {
	ListKeywordRules(ctx context.Context, agencyID uuid.UUID, agentID *uuid.UUID, now time.Time) ([]domain.KeywordRule, error)
	RecordKeywordMatch(ctx context.Context, ev domain.KeywordMatchEvent) error
}

// Match describes the rule that fired.
type Match struct {
	RuleID    uuid.UUID        `json:"ruleId"`
	Pattern   string           `json:"pattern"`
	MatchType domain.MatchType `json:"matchType"`
	Weight    float64          `json:"weight"`
}

// Matcher loads live rules and returns the first that fires.
type Matcher struct {
	repo Repository
	log  *logger.Logger
	now  func() time.Time
}

// New creates a Matcher.
func New(repo Repository, log *logger.Logger) *Matcher {
	return &Matcher{repo: repo, log: log, now: time.Now}
}

// WithClock overrides the time used for expiry checks.
func (m *Matcher) WithClock(now func() time.Time) *Matcher {
	m.now = now
	return m
}

// Match returns nil when no rule fires, the rule set is empty, or rules
// cannot be loaded. A fired rule is written to the audit log.
func (m *Matcher) Match(ctx context.Context, agencyID uuid.UUID, agentID *uuid.UUID, callEventID uuid.UUID, transcript string) *Match {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}

	now := m.now()
	rules, err := m.repo.ListKeywordRules(ctx, agencyID, agentID, now)
	if err != nil {
		m.log.DatabaseError("list keyword rules", err)
		return nil
	}

	for _, rule := range rules {
		if !rule.Live(now) {
			continue
		}
		matched, err := Evaluate(rule, transcript)
		if err != nil {
			m.log.Warn("callevents: skipping keyword rule", "ruleId", rule.ID, "pattern", rule.Pattern, "error", err)
			continue
		}
		if !matched {
			continue
		}

		match := &Match{
			RuleID:    rule.ID,
			Pattern:   rule.Pattern,
			MatchType: rule.MatchType,
			Weight:    rule.Weight,
		}
		m.audit(ctx, agencyID, callEventID, match, now)
		return match
	}
	return nil
}

func (m *Matcher) audit(ctx context.Context, agencyID, callEventID uuid.UUID, match *Match, now time.Time) {
	err := m.repo.RecordKeywordMatch(ctx, domain.KeywordMatchEvent{
		ID:          uuid.New(),
		RuleID:      match.RuleID,
		AgencyID:    agencyID,
		CallEventID: callEventID,
		Pattern:     match.Pattern,
		MatchType:   match.MatchType,
		Weight:      match.Weight,
		MatchedAt:   now,
	})
	if err != nil {
		m.log.DatabaseError("record keyword match", err)
	}
}

// Evaluate applies one rule to text. An invalid regular expression is
// returned as an error so callers can skip the rule.
func Evaluate(rule domain.KeywordRule, text string) (bool, error) {
	pattern := rule.Pattern
	if strings.TrimSpace(pattern) == "" {
		return false, nil
	}

	switch rule.MatchType {
	case domain.MatchContains:
		if rule.CaseSensitive {
			return strings.Contains(text, pattern), nil
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(pattern)), nil
	case domain.MatchExact:
		re, err := compile(`\b`+regexp.QuoteMeta(pattern)+`\b`, rule.CaseSensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	case domain.MatchRegex:
		re, err := compile(pattern, rule.CaseSensitive)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	default:
		return false, fmt.Errorf("%w %q", ErrUnknownMatchType, rule.MatchType)
	}
}

func compile(expr string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}
