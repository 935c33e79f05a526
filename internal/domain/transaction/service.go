package transaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/auth"
	"github.com/pharmos/compliance/internal/platform/occ"
	"github.com/pharmos/compliance/internal/platform/webhook"
)

// Override workflow errors.
var (
	ErrInvalidState = fmt.Errorf("transaction is not pending")
	ErrUnauthorized = fmt.Errorf("approver lacks an authorized role")
)

// ValidationError reports a rejected override request: bad reason code or
// an insufficient justification.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Notifier fans compliance events out to subscribers. Satisfied by the
// webhook dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, ev webhook.Event) error
}

type Service struct {
	repo          Repository
	loader        *SnapshotLoader
	guard         *occ.Guard
	trail         *audit.Trail
	notifier      Notifier
	approverRoles []string
	logger        zerolog.Logger
}

func NewService(repo Repository, loader *SnapshotLoader, guard *occ.Guard,
	trail *audit.Trail, notifier Notifier, approverRoles []string, logger zerolog.Logger) *Service {
	guard.Register(occ.EntityTransaction, &guardStore{repo: repo})
	return &Service{
		repo:          repo,
		loader:        loader,
		guard:         guard,
		trail:         trail,
		notifier:      notifier,
		approverRoles: approverRoles,
		logger:        logger,
	}
}

type guardStore struct{ repo Repository }

func (s *guardStore) Get(ctx context.Context, id string) (interface{}, occ.Version, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid transaction id: %w", err)
	}
	t, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	return t, t.Version, nil
}

func (s *guardStore) Put(ctx context.Context, _ string, expected occ.Version, entity interface{}) (occ.Version, error) {
	t, ok := entity.(*Transaction)
	if !ok {
		return 0, fmt.Errorf("unexpected entity type %T", entity)
	}
	return s.repo.UpdateVersioned(ctx, t, expected)
}

// Validate runs the evaluator over a fresh snapshot, persists the verdict
// and notifies subscribers. The caller gets the complete violation list.
func (s *Service) Validate(ctx context.Context, req *Request) (*Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	snap, err := s.loader.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	status, violations := Evaluate(req, snap)

	t := &Transaction{
		ExternalID:   req.ExternalID,
		CustomerID:   req.CustomerID,
		DataAreaID:   req.DataAreaID,
		Date:         req.Date,
		Type:         req.Type,
		Lines:        req.Lines,
		Status:       status,
		Violations:   violations,
		CallerSystem: req.CallerSystem,
	}
	if t.Date.IsZero() {
		t.Date = snap.At
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.trail.Append(ctx, req.CallerSystem, "transaction.validate",
		occ.EntityRef{Kind: occ.EntityTransaction, ID: t.ID.String()}, nil, t)
	s.notify(ctx, t)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.ListByCustomer(ctx, customerID, limit, offset)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// OverrideRequest carries the approver's decision input.
type OverrideRequest struct {
	ApproverID    string
	ApproverRoles []string
	ReasonCode    string
	Justification string
	AuthorityRef  string
}

func (s *Service) validateOverride(req OverrideRequest) error {
	if req.ApproverID == "" {
		return &ValidationError{Reason: "approver id is required"}
	}
	if !ValidReasonCode(req.ReasonCode) {
		return &ValidationError{Reason: fmt.Sprintf("reason code %q is not in the permitted set", req.ReasonCode)}
	}
	if len(strings.TrimSpace(req.Justification)) < MinJustificationLen {
		return &ValidationError{Reason: fmt.Sprintf("justification must be at least %d characters", MinJustificationLen)}
	}
	if !auth.HasAnyRole(req.ApproverRoles, s.approverRoles) {
		return ErrUnauthorized
	}
	return nil
}

// Approve transitions a pending transaction to OverrideApproved. The guard's
// version check makes the transition exactly-once: of two racing approvers,
// one wins and the other gets a conflict.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, req OverrideRequest) (*Transaction, error) {
	return s.override(ctx, id, req, StatusOverrideApproved, "transaction.approve")
}

// Reject transitions a pending transaction to Rejected under the same
// justification contract.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, req OverrideRequest) (*Transaction, error) {
	return s.override(ctx, id, req, StatusRejected, "transaction.reject")
}

func (s *Service) override(ctx context.Context, id uuid.UUID, req OverrideRequest, target, action string) (*Transaction, error) {
	if err := s.validateOverride(req); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, ErrInvalidState
	}

	ref := occ.EntityRef{Kind: occ.EntityTransaction, ID: id.String()}
	var before, after *Transaction
	newVersion, err := s.guard.CompareAndSwap(ctx, ref, current.Version, func(cur interface{}) (interface{}, error) {
		t := cur.(*Transaction)
		if t.Status != StatusPending {
			return nil, ErrInvalidState
		}
		snapshot := *t
		before = &snapshot
		t.Status = target
		t.ApproverID = req.ApproverID
		t.ReasonCode = req.ReasonCode
		t.Justification = req.Justification
		t.AuthorityRef = req.AuthorityRef
		after = t
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	after.Version = newVersion

	s.trail.Append(ctx, req.ApproverID, action, ref, before, after)
	s.notify(ctx, after)
	return after, nil
}

func (s *Service) notify(ctx context.Context, t *Transaction) {
	err := s.notifier.Dispatch(ctx, webhook.Event{
		Type:       webhook.EventComplianceStatusChanged,
		EntityKind: occ.EntityTransaction,
		EntityID:   t.ID.String(),
		NewStatus:  t.Status,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("webhook dispatch failed")
	}
}
