package repository

import (
	"context"
	"time"

	"freight_ops_backend/internal/callevents/domain"
)

// UpsertCallSummary replaces the dashboard row for the conversation.
func (r *Repository) UpsertCallSummary(ctx context.Context, s domain.CallSummary) error {
	reason := s.HighIntentReason
	if len(reason) == 0 {
		reason = []byte(`{}`)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO call_summaries (
			conversation_id, call_event_id, agency_id, lead_id, duration_secs, outcome, sentiment, summary,
			intent_score, is_high_intent, high_intent_reason, carrier_usdot, carrier_mc, carrier_name,
			carrier_status, cost, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now())
		ON CONFLICT (conversation_id) DO UPDATE SET
			call_event_id = EXCLUDED.call_event_id,
			agency_id = EXCLUDED.agency_id,
			lead_id = EXCLUDED.lead_id,
			duration_secs = EXCLUDED.duration_secs,
			outcome = EXCLUDED.outcome,
			sentiment = EXCLUDED.sentiment,
			summary = EXCLUDED.summary,
			intent_score = EXCLUDED.intent_score,
			is_high_intent = EXCLUDED.is_high_intent,
			high_intent_reason = EXCLUDED.high_intent_reason,
			carrier_usdot = EXCLUDED.carrier_usdot,
			carrier_mc = EXCLUDED.carrier_mc,
			carrier_name = EXCLUDED.carrier_name,
			carrier_status = EXCLUDED.carrier_status,
			cost = EXCLUDED.cost,
			updated_at = now()
	`, s.ConversationID, s.CallEventID, s.AgencyID, s.LeadID, s.DurationSecs, s.Outcome, s.Sentiment, s.Summary,
		s.IntentScore, s.IsHighIntent, reason, s.CarrierUSDOT, s.CarrierMC, s.CarrierName,
		s.CarrierStatus, s.Cost)
	return err
}

// IncrementDailyAgentState inserts the day's row with the delta as initial
// values, or adds the delta to the existing row.
func (r *Repository) IncrementDailyAgentState(ctx context.Context, d domain.DailyAgentDelta) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_agent_states (
			agent_id, state_date, agency_id, calls_handled, minutes_handled, high_intent_count, bookings, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (agent_id, state_date) DO UPDATE SET
			calls_handled = daily_agent_states.calls_handled + EXCLUDED.calls_handled,
			minutes_handled = daily_agent_states.minutes_handled + EXCLUDED.minutes_handled,
			high_intent_count = daily_agent_states.high_intent_count + EXCLUDED.high_intent_count,
			bookings = daily_agent_states.bookings + EXCLUDED.bookings,
			updated_at = now()
	`, d.AgentID, dateOnly(d.StateDate), d.AgencyID, d.Calls, d.Minutes, d.HighIntent, d.Bookings)
	return err
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
