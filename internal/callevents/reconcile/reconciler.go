// Package reconcile attaches a call event to exactly one lead.
//
// Strategies run in order and stop at the first success: a lead already
// linked to the call, a pending lead whose phone matches a variant of the
// caller number, and the newest pending lead inside a trailing window.
// When nothing matches and the caller is known, a pending lead is created.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/internal/callevents/repository"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/phone"

	"github.com/google/uuid"
)

// DefaultWindow is the trailing window for the temporal fallback.
const DefaultWindow = 5 * time.Minute

// Strategy names how a lead was found.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyPhone    Strategy = "phone"
	StrategyTemporal Strategy = "temporal"
	StrategyCreated  Strategy = "created"
	StrategyNone     Strategy = "none"
	StrategySkipped  Strategy = "skipped"
)

// Repository is the lead storage the reconciler needs.
type Repository interface {
	FindLeadByPhoneCall(ctx context.Context, callEventID uuid.UUID) (domain.Lead, error)
	FindPendingLeadByPhones(ctx context.Context, agencyID uuid.UUID, phones []string) (domain.Lead, error)
	FindPendingLeadSince(ctx context.Context, agencyID uuid.UUID, since time.Time) (domain.Lead, error)
	LinkLeadToCall(ctx context.Context, leadID, callEventID uuid.UUID, conversationID *uuid.UUID) (bool, error)
	BackfillLeadPhone(ctx context.Context, leadID uuid.UUID, number string) error
	CreateLead(ctx context.Context, l domain.Lead) (domain.Lead, error)
}

// Input is the stored call plus the conversation row derived from it.
type Input struct {
	CallEvent      domain.CallEvent
	ConversationID *uuid.UUID
}

// Result reports the lead the call ended up attached to, if any.
type Result struct {
	Lead            *domain.Lead
	Strategy        Strategy
	Created         bool
	PhoneBackfilled bool
}

// Reconciler links call events to leads.
type Reconciler struct {
	repo   Repository
	log    *logger.Logger
	window time.Duration
	now    func() time.Time
}

// New creates a Reconciler. A non-positive window uses DefaultWindow.
func New(repo Repository, window time.Duration, log *logger.Logger) *Reconciler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{repo: repo, log: log, window: window, now: time.Now}
}

// WithClock overrides the time source used by the temporal fallback.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile runs the strategies. Calls without an agency are skipped.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (Result, error) {
	ev := in.CallEvent
	if ev.AgencyID == nil {
		return Result{Strategy: StrategySkipped}, nil
	}
	agencyID := *ev.AgencyID

	lead, err := r.repo.FindLeadByPhoneCall(ctx, ev.ID)
	if err == nil {
		return Result{Lead: &lead, Strategy: StrategyDirect}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return Result{}, fmt.Errorf("find linked lead: %w", err)
	}

	callerKnown := domain.IsKnown(ev.CallerNumber) && !phone.IsPlaceholder(ev.CallerNumber)

	if callerKnown {
		candidate, err := r.repo.FindPendingLeadByPhones(ctx, agencyID, phone.Variants(ev.CallerNumber))
		switch {
		case err == nil:
			if res, ok, err := r.link(ctx, candidate, in, StrategyPhone); err != nil || ok {
				return res, err
			}
		case !errors.Is(err, repository.ErrNotFound):
			r.log.DatabaseError("find pending lead by phone", err)
		}
	}

	candidate, err := r.repo.FindPendingLeadSince(ctx, agencyID, r.now().Add(-r.window))
	switch {
	case err == nil:
		res, ok, err := r.link(ctx, candidate, in, StrategyTemporal)
		if err != nil {
			return res, err
		}
		if ok {
			if callerKnown && phone.IsPlaceholder(candidate.CallerPhone) {
				if err := r.repo.BackfillLeadPhone(ctx, candidate.ID, ev.CallerNumber); err != nil {
					r.log.DatabaseError("backfill lead phone", err)
				} else {
					res.PhoneBackfilled = true
					res.Lead.CallerPhone = ev.CallerNumber
				}
			}
			return res, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		r.log.DatabaseError("find recent pending lead", err)
	}

	if !callerKnown {
		return Result{Strategy: StrategyNone}, nil
	}

	callID := ev.ID
	created, err := r.repo.CreateLead(ctx, domain.Lead{
		ID:             uuid.New(),
		AgencyID:       &agencyID,
		Status:         domain.LeadStatusPending,
		CallerPhone:    phone.NormalizeE164(ev.CallerNumber),
		PhoneCallID:    &callID,
		ConversationID: in.ConversationID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create lead: %w", err)
	}
	return Result{Lead: &created, Strategy: StrategyCreated, Created: true}, nil
}

// link claims the candidate for the call. When the conditional update loses
// a race, the direct link is re-checked before the caller falls through.
func (r *Reconciler) link(ctx context.Context, candidate domain.Lead, in Input, strategy Strategy) (Result, bool, error) {
	linked, err := r.repo.LinkLeadToCall(ctx, candidate.ID, in.CallEvent.ID, in.ConversationID)
	if err != nil {
		r.log.DatabaseError("link lead to call", err)
		return Result{}, false, nil
	}
	if linked {
		callID := in.CallEvent.ID
		candidate.PhoneCallID = &callID
		if candidate.ConversationID == nil {
			candidate.ConversationID = in.ConversationID
		}
		return Result{Lead: &candidate, Strategy: strategy}, true, nil
	}

	existing, err := r.repo.FindLeadByPhoneCall(ctx, in.CallEvent.ID)
	if err == nil {
		return Result{Lead: &existing, Strategy: StrategyDirect}, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return Result{}, false, fmt.Errorf("find linked lead: %w", err)
	}
	r.log.Debug("callevents: lead already linked elsewhere", "leadId", candidate.ID, "strategy", string(strategy))
	return Result{}, false, nil
}
