package keywords

import (
	"context"
	"errors"
	"testing"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/platform/logger"

	"github.com/google/uuid"
)

func rule(pattern string, mt domain.MatchType) domain.KeywordRule {
	return domain.KeywordRule{Pattern: pattern, MatchType: mt, IsActive: true, Weight: 0.5}
}

func TestEvaluateSemantics(t *testing.T) {
	tests := []struct {
		name string
		rule domain.KeywordRule
		text string
		want bool
	}{
		{"contains phrase", rule("double brokering", domain.MatchContains), "...we do double brokering sometimes...", true},
		{"contains ignores case", rule("Reefer", domain.MatchContains), "need a REEFER tomorrow", true},
		{"exact rejects joined token", rule("hot", domain.MatchExact), "...that's a hotshot trailer...", false},
		{"exact matches word", rule("hot", domain.MatchExact), "...we need a hot load...", true},
		{"exact hyphenated", rule("dry-van", domain.MatchExact), "need a dry-van today", true},
		{"exact quotes metacharacters", rule("c.o.d", domain.MatchExact), "pay cxoxd", false},
		{"regex", rule(`mc\s*#?\d{6}`, domain.MatchRegex), "our MC #123456", true},
		{"regex no match", rule(`^booked$`, domain.MatchRegex), "not booked yet", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.rule, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCaseSensitive(t *testing.T) {
	r := rule("MC", domain.MatchContains)
	r.CaseSensitive = true
	if ok, _ := Evaluate(r, "my mc number"); ok {
		t.Fatalf("case-sensitive contains should not match lowercase")
	}
	r.MatchType = domain.MatchExact
	if ok, _ := Evaluate(r, "my MC number"); !ok {
		t.Fatalf("case-sensitive exact should match")
	}
}

func TestEvaluateInvalidRegex(t *testing.T) {
	if _, err := Evaluate(rule("(unbalanced", domain.MatchRegex), "anything"); err == nil {
		t.Fatalf("expected error for invalid regex")
	}
	if _, err := Evaluate(rule("x", "fuzzy"), "x"); !errors.Is(err, ErrUnknownMatchType) {
		t.Fatalf("expected ErrUnknownMatchType, got %v", err)
	}
}

func TestMatchFirstRuleWinsAndSkipsInvalid(t *testing.T) {
	repo := repository.NewMemory()
	agency := uuid.New()
	callID := uuid.New()

	bad := rule("(unbalanced", domain.MatchRegex)
	bad.AgencyID, bad.SortOrder = agency, 0
	first := rule("hot load", domain.MatchContains)
	first.AgencyID, first.SortOrder, first.Weight = agency, 1, 0.4
	second := rule("hot", domain.MatchExact)
	second.AgencyID, second.SortOrder, second.Weight = agency, 2, 0.95
	repo.AddKeywordRule(second)
	repo.AddKeywordRule(bad)
	firstStored := repo.AddKeywordRule(first)

	m := New(repo, logger.Discard())
	match := m.Match(context.Background(), agency, nil, callID, "we have a hot load for you")
	if match == nil {
		t.Fatalf("expected a match")
	}
	if match.RuleID != firstStored.ID || match.Weight != 0.4 {
		t.Fatalf("expected first rule in stored order, got %+v", match)
	}

	audits := repo.KeywordMatches()
	if len(audits) != 1 || audits[0].CallEventID != callID || audits[0].RuleID != firstStored.ID {
		t.Fatalf("unexpected audit rows: %+v", audits)
	}
}

func TestMatchIgnoresExpiredInactiveAndOtherScopes(t *testing.T) {
	repo := repository.NewMemory()
	agency := uuid.New()
	agent := uuid.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	expired := rule("load", domain.MatchContains)
	expired.AgencyID, expired.ExpiresAt = agency, &past
	inactive := rule("load", domain.MatchContains)
	inactive.AgencyID, inactive.IsActive = agency, false
	otherAgency := rule("load", domain.MatchContains)
	otherAgency.AgencyID = uuid.New()
	otherAgent := rule("load", domain.MatchContains)
	otherAgent.AgencyID = agency
	someoneElse := uuid.New()
	otherAgent.AgentID = &someoneElse
	for _, r := range []domain.KeywordRule{expired, inactive, otherAgency, otherAgent} {
		repo.AddKeywordRule(r)
	}

	m := New(repo, logger.Discard()).WithClock(func() time.Time { return now })
	if got := m.Match(context.Background(), agency, &agent, uuid.New(), "a load"); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}

	mine := rule("load", domain.MatchContains)
	mine.AgencyID, mine.AgentID = agency, &agent
	repo.AddKeywordRule(mine)
	if got := m.Match(context.Background(), agency, &agent, uuid.New(), "a load"); got == nil {
		t.Fatalf("agent-scoped rule should apply to its agent")
	}
}

func TestMatchEmptyRuleSet(t *testing.T) {
	m := New(repository.NewMemory(), logger.Discard())
	if got := m.Match(context.Background(), uuid.New(), nil, uuid.New(), "hot load"); got != nil {
		t.Fatalf("expected nil for empty rule set")
	}
}
