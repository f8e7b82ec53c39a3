// Package carriers classifies extracted DOT/MC numbers against cached
// regulatory status. It never calls a live regulatory API.
package carriers

import (
	"context"
	"errors"
	"strings"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/phone"

	"golang.org/x/sync/singleflight"
)

// Resolution statuses.
const (
	StatusVerifiedActive = "verified_active"
	StatusFlagged        = "flagged"
	StatusPendingLookup  = "pending_lookup"
)

// Issues reported on flagged carriers.
const (
	IssueAuthorityInactive = "authority_inactive"
	IssueInsuranceInactive = "insurance_inactive"
)

const statusActive = "ACTIVE"

// Repository is the carrier table lookup.
type Repository interface {
	FindCarrier(ctx context.Context, kind, number string) (domain.CarrierRecord, error)
}

// Resolution is the classification of one carrier identifier.
type Resolution struct {
	Status      string   `json:"status"`
	IDType      string   `json:"idType"`
	Number      string   `json:"number"`
	CarrierName *string  `json:"carrierName,omitempty"`
	Issues      []string `json:"issues,omitempty"`
}

// Resolver looks identifiers up through an optional cache.
type Resolver struct {
	repo  Repository
	cache Cache
	group singleflight.Group
	log   *logger.Logger
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(repo Repository, cache Cache, log *logger.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, log: log}
}

type identifier struct {
	kind   string
	number string
}

// Resolve classifies the extracted identifiers, DOT first. It returns nil
// when neither identifier is present.
func (r *Resolver) Resolve(ctx context.Context, usdot, mc *string) *Resolution {
	var ids []identifier
	if n := normalizeID(usdot); n != "" {
		ids = append(ids, identifier{kind: domain.CarrierIDUSDOT, number: n})
	}
	if n := normalizeID(mc); n != "" {
		ids = append(ids, identifier{kind: domain.CarrierIDMC, number: n})
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		record, ok := r.lookup(ctx, id)
		if ok {
			return classify(id, record)
		}
	}
	return &Resolution{Status: StatusPendingLookup, IDType: ids[0].kind, Number: ids[0].number}
}

func (r *Resolver) lookup(ctx context.Context, id identifier) (domain.CarrierRecord, bool) {
	if r.cache != nil {
		record, hit, err := r.cache.Get(ctx, id.kind, id.number)
		if err != nil {
			r.log.Warn("callevents: carrier cache read failed", "kind", id.kind, "error", err)
		} else if hit {
			return record, true
		}
	}

	v, err, _ := r.group.Do(id.kind+":"+id.number, func() (any, error) {
		// Shared by every waiter on this key; detached from the first caller's cancellation.
		lookupCtx := context.WithoutCancel(ctx)
		record, err := r.repo.FindCarrier(lookupCtx, id.kind, id.number)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(lookupCtx, id.kind, id.number, record); err != nil {
				r.log.Warn("callevents: carrier cache write failed", "kind", id.kind, "error", err)
			}
		}
		return record, nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.log.DatabaseError("find carrier", err)
		}
		return domain.CarrierRecord{}, false
	}
	return v.(domain.CarrierRecord), true
}

func classify(id identifier, record domain.CarrierRecord) *Resolution {
	res := &Resolution{IDType: id.kind, Number: id.number, CarrierName: record.CarrierName}
	if !isActive(record.AuthorityStatus) {
		res.Issues = append(res.Issues, IssueAuthorityInactive)
	}
	if !isActive(record.InsuranceStatus) {
		res.Issues = append(res.Issues, IssueInsuranceInactive)
	}
	if len(res.Issues) == 0 {
		res.Status = StatusVerifiedActive
	} else {
		res.Status = StatusFlagged
	}
	return res
}

func isActive(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), statusActive)
}

func normalizeID(v *string) string {
	if v == nil {
		return ""
	}
	return phone.Digits(*v)
}
