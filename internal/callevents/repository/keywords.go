package repository

import (
	"context"
	"time"

	"freight_ops_backend/internal/callevents/domain"

	"github.com/google/uuid"
)

// ListKeywordRules returns live rules for the agency in evaluation order.
// Agent-scoped rules are included only for the matching agent.
func (r *Repository) ListKeywordRules(ctx context.Context, agencyID uuid.UUID, agentID *uuid.UUID, now time.Time) ([]domain.KeywordRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agency_id, agent_id, pattern, match_type, case_sensitive, weight, is_active, expires_at, sort_order, created_at
		FROM keyword_rules
		WHERE agency_id = $1
			AND is_active = true
			AND (expires_at IS NULL OR expires_at > $3)
			AND (agent_id IS NULL OR agent_id = $2)
		ORDER BY sort_order ASC, created_at ASC, id ASC
	`, agencyID, agentID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.KeywordRule
	for rows.Next() {
		var rule domain.KeywordRule
		var matchType string
		if err := rows.Scan(
			&rule.ID, &rule.AgencyID, &rule.AgentID, &rule.Pattern, &matchType, &rule.CaseSensitive,
			&rule.Weight, &rule.IsActive, &rule.ExpiresAt, &rule.SortOrder, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rule.MatchType = domain.MatchType(matchType)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// RecordKeywordMatch appends an audit row for a fired rule.
func (r *Repository) RecordKeywordMatch(ctx context.Context, ev domain.KeywordMatchEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO keyword_match_events (id, rule_id, agency_id, call_event_id, pattern, match_type, weight, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.RuleID, ev.AgencyID, ev.CallEventID, ev.Pattern, string(ev.MatchType), ev.Weight, ev.MatchedAt)
	return err
}
