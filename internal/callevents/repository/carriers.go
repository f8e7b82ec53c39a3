package repository

import (
	"context"
	"fmt"

	"freight_ops_backend/internal/callevents/domain"
)

// FindCarrier looks up a cached carrier by DOT or MC number.
func (r *Repository) FindCarrier(ctx context.Context, kind, number string) (domain.CarrierRecord, error) {
	var column string
	switch kind {
	case domain.CarrierIDUSDOT:
		column = "usdot"
	case domain.CarrierIDMC:
		column = "mc"
	default:
		return domain.CarrierRecord{}, fmt.Errorf("unknown carrier identifier kind %q", kind)
	}

	var c domain.CarrierRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, usdot, mc, carrier_name, authority_status, insurance_status, checked_at
		FROM carrier_records
		WHERE `+column+` = $1
	`, number).Scan(&c.ID, &c.USDOT, &c.MC, &c.CarrierName, &c.AuthorityStatus, &c.InsuranceStatus, &c.CheckedAt)
	return c, notFound(err)
}
