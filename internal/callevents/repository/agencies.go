package repository

import (
	"context"

	"freight_ops_backend/internal/callevents/domain"

	"github.com/google/uuid"
)

// FindAgencyPhones returns agency numbers stored under any of the given formats.
// Oldest registrations come first.
func (r *Repository) FindAgencyPhones(ctx context.Context, numbers []string) ([]domain.AgencyPhone, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, agency_id, phone_number, assigned_agent_id
		FROM agency_phone_numbers
		WHERE phone_number = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, numbers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phones []domain.AgencyPhone
	for rows.Next() {
		var p domain.AgencyPhone
		if err := rows.Scan(&p.ID, &p.AgencyID, &p.PhoneNumber, &p.AssignedAgentID); err != nil {
			return nil, err
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

// FirstAgencyID returns the oldest agency.
func (r *Repository) FirstAgencyID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM agencies ORDER BY created_at ASC, id ASC LIMIT 1`).Scan(&id)
	return id, notFound(err)
}

// GetAgency loads one agency.
func (r *Repository) GetAgency(ctx context.Context, agencyID uuid.UUID) (domain.Agency, error) {
	var a domain.Agency
	err := r.pool.QueryRow(ctx, `SELECT id, name, timezone FROM agencies WHERE id = $1`, agencyID).Scan(&a.ID, &a.Name, &a.Timezone)
	return a, notFound(err)
}

// ListAgencyMemberIDs returns every agent belonging to the agency.
func (r *Repository) ListAgencyMemberIDs(ctx context.Context, agencyID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id FROM agency_members WHERE agency_id = $1 ORDER BY created_at ASC, agent_id ASC
	`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
