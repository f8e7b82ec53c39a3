package repository

import (
	"context"
	"errors"
	"time"

	"freight_ops_backend/internal/callevents/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadColumns = `id, agency_id, status, caller_phone, phone_call_id, conversation_id, intent_score,
	is_high_intent, carrier_usdot, carrier_mc, carrier_name, notes, created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	var status string
	err := row.Scan(
		&l.ID, &l.AgencyID, &status, &l.CallerPhone, &l.PhoneCallID, &l.ConversationID, &l.IntentScore,
		&l.IsHighIntent, &l.CarrierUSDOT, &l.CarrierMC, &l.CarrierName, &l.Notes, &l.CreatedAt, &l.UpdatedAt,
	)
	l.Status = domain.LeadStatus(status)
	return l, err
}

// FindLeadByPhoneCall returns the lead already linked to the call event.
func (r *Repository) FindLeadByPhoneCall(ctx context.Context, callEventID uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE phone_call_id = $1`, callEventID))
	return l, notFound(err)
}

// FindPendingLeadByPhones returns the newest pending, unlinked lead whose
// caller phone equals any of phones.
func (r *Repository) FindPendingLeadByPhones(ctx context.Context, agencyID uuid.UUID, phones []string) (domain.Lead, error) {
	if len(phones) == 0 {
		return domain.Lead{}, ErrNotFound
	}
	l, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE agency_id = $1 AND status = 'pending' AND phone_call_id IS NULL AND caller_phone = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, agencyID, phones))
	return l, notFound(err)
}

// FindPendingLeadSince returns the newest pending, unlinked lead created at or after since.
func (r *Repository) FindPendingLeadSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE agency_id = $1 AND status = 'pending' AND phone_call_id IS NULL AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1
	`, agencyID, since))
	return l, notFound(err)
}

// LinkLeadToCall sets phone_call_id only while it is still null. It reports
// false when the lead was already linked or another lead holds the call.
func (r *Repository) LinkLeadToCall(ctx context.Context, leadID, callEventID uuid.UUID, conversationID *uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET phone_call_id = $2, conversation_id = COALESCE($3, conversation_id), updated_at = now()
		WHERE id = $1 AND phone_call_id IS NULL
	`, leadID, callEventID, conversationID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BackfillLeadPhone replaces a placeholder caller phone.
func (r *Repository) BackfillLeadPhone(ctx context.Context, leadID uuid.UUID, phone string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET caller_phone = $2, updated_at = now()
		WHERE id = $1 AND (caller_phone = '' OR lower(caller_phone) = 'unknown' OR caller_phone ~ '^[0+ ()-]*$')
	`, leadID, phone)
	return err
}

// CreateLead inserts a lead. A concurrent creation for the same call returns the existing row.
func (r *Repository) CreateLead(ctx context.Context, l domain.Lead) (domain.Lead, error) {
	created, err := scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, agency_id, status, caller_phone, phone_call_id, conversation_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone_call_id) WHERE phone_call_id IS NOT NULL DO NOTHING
		RETURNING `+leadColumns,
		l.ID, l.AgencyID, string(l.Status), l.CallerPhone, l.PhoneCallID, l.ConversationID, l.Notes,
	))
	if errors.Is(err, pgx.ErrNoRows) && l.PhoneCallID != nil {
		return r.FindLeadByPhoneCall(ctx, *l.PhoneCallID)
	}
	return created, err
}

// UpdateLeadScore raises score fields. Scores never decrease and carrier
// identifiers and notes are only filled when empty.
func (r *Repository) UpdateLeadScore(ctx context.Context, leadID uuid.UUID, upd domain.LeadScoreUpdate) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE leads SET
			intent_score = GREATEST(intent_score, $2),
			is_high_intent = is_high_intent OR $3,
			carrier_usdot = COALESCE(carrier_usdot, $4),
			carrier_mc = COALESCE(carrier_mc, $5),
			carrier_name = COALESCE(carrier_name, $6),
			notes = COALESCE(notes, $7),
			updated_at = now()
		WHERE id = $1
	`, leadID, upd.IntentScore, upd.IsHighIntent, upd.CarrierUSDOT, upd.CarrierMC, upd.CarrierName, upd.Notes)
	return err
}
