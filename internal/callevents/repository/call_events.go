package repository

import (
	"context"

	"freight_ops_backend/internal/callevents/domain"

	"github.com/jackc/pgx/v5"
)

const callEventColumns = `id, provider_event_id, conversation_id, call_sid, caller_number, agent_number,
	direction, event_type, is_terminal, has_transcript, termination_reason, duration_secs, cost,
	provider_summary, provider_summary_title, agency_id, assigned_agent_id, occurred_at,
	raw_payload, received_at, updated_at`

func scanCallEvent(row pgx.Row) (domain.CallEvent, error) {
	var ev domain.CallEvent
	err := row.Scan(
		&ev.ID, &ev.ProviderEventID, &ev.ConversationID, &ev.CallSID, &ev.CallerNumber, &ev.AgentNumber,
		&ev.Direction, &ev.EventType, &ev.IsTerminal, &ev.HasTranscript, &ev.TerminationReason, &ev.DurationSecs, &ev.Cost,
		&ev.ProviderSummary, &ev.ProviderSummaryTitle, &ev.AgencyID, &ev.AssignedAgentID, &ev.OccurredAt,
		&ev.RawPayload, &ev.ReceivedAt, &ev.UpdatedAt,
	)
	return ev, err
}

// upsertCallEventSQL merges a delivery into the row keyed by conversation id.
// Sentinel values never overwrite known ones, and the stored payload is only
// replaced by one that is at least as complete: a non-terminal delivery never
// replaces a terminal one, and a delivery without a transcript never replaces
// one that carried it.
const upsertCallEventSQL = `
	INSERT INTO call_events (
		id, provider_event_id, conversation_id, call_sid, caller_number, agent_number,
		direction, event_type, is_terminal, has_transcript, termination_reason, duration_secs, cost,
		provider_summary, provider_summary_title, agency_id, assigned_agent_id, occurred_at,
		raw_payload, received_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now())
	ON CONFLICT (conversation_id) DO UPDATE SET
		provider_event_id = COALESCE(EXCLUDED.provider_event_id, call_events.provider_event_id),
		call_sid = COALESCE(EXCLUDED.call_sid, call_events.call_sid),
		caller_number = CASE WHEN EXCLUDED.caller_number = 'unknown' THEN call_events.caller_number ELSE EXCLUDED.caller_number END,
		agent_number = CASE WHEN EXCLUDED.agent_number = 'unknown' THEN call_events.agent_number ELSE EXCLUDED.agent_number END,
		direction = CASE WHEN EXCLUDED.direction = 'unknown' THEN call_events.direction ELSE EXCLUDED.direction END,
		event_type = CASE WHEN (call_events.is_terminal AND NOT EXCLUDED.is_terminal) OR (call_events.has_transcript AND NOT EXCLUDED.has_transcript) THEN call_events.event_type ELSE EXCLUDED.event_type END,
		raw_payload = CASE WHEN (call_events.is_terminal AND NOT EXCLUDED.is_terminal) OR (call_events.has_transcript AND NOT EXCLUDED.has_transcript) THEN call_events.raw_payload ELSE EXCLUDED.raw_payload END,
		is_terminal = call_events.is_terminal OR EXCLUDED.is_terminal,
		has_transcript = call_events.has_transcript OR EXCLUDED.has_transcript,
		termination_reason = CASE WHEN EXCLUDED.termination_reason = 'unknown' THEN call_events.termination_reason ELSE EXCLUDED.termination_reason END,
		duration_secs = GREATEST(call_events.duration_secs, EXCLUDED.duration_secs),
		cost = COALESCE(EXCLUDED.cost, call_events.cost),
		provider_summary = COALESCE(EXCLUDED.provider_summary, call_events.provider_summary),
		provider_summary_title = COALESCE(EXCLUDED.provider_summary_title, call_events.provider_summary_title),
		agency_id = COALESCE(EXCLUDED.agency_id, call_events.agency_id),
		assigned_agent_id = COALESCE(EXCLUDED.assigned_agent_id, call_events.assigned_agent_id),
		occurred_at = COALESCE(call_events.occurred_at, EXCLUDED.occurred_at),
		updated_at = now()
	RETURNING ` + callEventColumns

// UpsertCallEvent inserts or merges the row keyed by conversation id.
func (r *Repository) UpsertCallEvent(ctx context.Context, ev domain.CallEvent) (domain.CallEvent, error) {
	row := r.pool.QueryRow(ctx, upsertCallEventSQL,
		ev.ID, ev.ProviderEventID, ev.ConversationID, ev.CallSID, ev.CallerNumber, ev.AgentNumber,
		ev.Direction, ev.EventType, ev.IsTerminal, ev.HasTranscript, ev.TerminationReason, ev.DurationSecs, ev.Cost,
		ev.ProviderSummary, ev.ProviderSummaryTitle, ev.AgencyID, ev.AssignedAgentID, ev.OccurredAt,
		ev.RawPayload, ev.ReceivedAt,
	)
	return scanCallEvent(row)
}

// GetCallEventByConversationID loads the stored row for a conversation.
func (r *Repository) GetCallEventByConversationID(ctx context.Context, conversationID string) (domain.CallEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callEventColumns+` FROM call_events WHERE conversation_id = $1`, conversationID)
	ev, err := scanCallEvent(row)
	return ev, notFound(err)
}

// UpsertConversation writes the transcript record keyed by call event.
// Enrichment fields are only replaced by non-null values.
func (r *Repository) UpsertConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (
			id, call_event_id, call_sid, transcript, sentiment, intent, outcome, summary, recording_url, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_event_id) DO UPDATE SET
			call_sid = COALESCE(EXCLUDED.call_sid, conversations.call_sid),
			transcript = EXCLUDED.transcript,
			sentiment = COALESCE(EXCLUDED.sentiment, conversations.sentiment),
			intent = COALESCE(EXCLUDED.intent, conversations.intent),
			outcome = COALESCE(EXCLUDED.outcome, conversations.outcome),
			summary = COALESCE(EXCLUDED.summary, conversations.summary),
			recording_url = COALESCE(EXCLUDED.recording_url, conversations.recording_url),
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
		RETURNING id, call_event_id, call_sid, transcript, sentiment, intent, outcome, summary,
			recording_url, raw_payload, created_at, updated_at
	`, c.ID, c.CallEventID, c.CallSID, c.Transcript, c.Sentiment, c.Intent, c.Outcome, c.Summary, c.RecordingURL, c.RawPayload).Scan(
		&c.ID, &c.CallEventID, &c.CallSID, &c.Transcript, &c.Sentiment, &c.Intent, &c.Outcome, &c.Summary,
		&c.RecordingURL, &c.RawPayload, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// RecordHealthEvent appends one invocation outcome row.
func (r *Repository) RecordHealthEvent(ctx context.Context, ev domain.HealthEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_health_events (id, service, status, error_message, conversation_id)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.Service, string(ev.Status), ev.ErrorMessage, ev.ConversationID)
	return err
}
