package reclassification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/substance"
	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
	"github.com/pharmos/compliance/internal/platform/webhook"
)

var (
	ErrNotPending       = errors.New("reclassification is not pending")
	ErrAlreadyQualified = errors.New("impact is already re-qualified")
)

// LicenceStore is the slice of the licence repository the analysis reads.
type LicenceStore interface {
	ListBySubstance(ctx context.Context, substanceCode string) ([]*licence.Licence, error)
	MappingsBySubstance(ctx context.Context, substanceCode string) ([]*licence.SubstanceMapping, error)
}

// SubstanceStore is the write access Process needs to commit the new
// classification. The regular substance service refuses classification
// edits; this is the one sanctioned mutation path.
type SubstanceStore interface {
	GetByCode(ctx context.Context, code string) (*substance.ControlledSubstance, error)
	Update(ctx context.Context, s *substance.ControlledSubstance) error
	AppendClassification(ctx context.Context, rec *substance.ClassificationRecord) error
}

type Notifier interface {
	Dispatch(ctx context.Context, ev webhook.Event) error
}

type Service struct {
	repo       Repository
	licences   LicenceStore
	substances SubstanceStore
	guard      *occ.Guard
	trail      *audit.Trail
	notifier   Notifier
	logger     zerolog.Logger
}

func NewService(repo Repository, licences LicenceStore, substances SubstanceStore,
	guard *occ.Guard, trail *audit.Trail, notifier Notifier, logger zerolog.Logger) *Service {
	guard.Register(occ.EntityReclassification, &guardStore{repo: repo})
	guard.Register(occ.EntityCustomerImpact, &impactStore{repo: repo})
	return &Service{
		repo:       repo,
		licences:   licences,
		substances: substances,
		guard:      guard,
		trail:      trail,
		notifier:   notifier,
		logger:     logger,
	}
}

type guardStore struct{ repo Repository }

func (s *guardStore) Get(ctx context.Context, id string) (interface{}, occ.Version, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid reclassification id: %w", err)
	}
	r, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	return r, r.Version, nil
}

func (s *guardStore) Put(ctx context.Context, _ string, expected occ.Version, entity interface{}) (occ.Version, error) {
	r, ok := entity.(*Reclassification)
	if !ok {
		return 0, fmt.Errorf("unexpected entity type %T", entity)
	}
	return s.repo.UpdateVersioned(ctx, r, expected)
}

type impactStore struct{ repo Repository }

func (s *impactStore) Get(ctx context.Context, id string) (interface{}, occ.Version, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid impact id: %w", err)
	}
	i, err := s.repo.GetImpact(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	return i, i.Version, nil
}

func (s *impactStore) Put(ctx context.Context, _ string, expected occ.Version, entity interface{}) (occ.Version, error) {
	i, ok := entity.(*CustomerImpact)
	if !ok {
		return 0, fmt.Errorf("unexpected entity type %T", entity)
	}
	return s.repo.UpdateImpactVersioned(ctx, i, expected)
}

// Create registers a reclassification event against the substance's current
// classification. The live classification is untouched until Process runs.
func (s *Service) Create(ctx context.Context, actor, substanceCode string,
	newClass substance.Classification, effectiveDate time.Time, regulatoryRef string) (*Reclassification, error) {

	sub, err := s.substances.GetByCode(ctx, substanceCode)
	if err != nil {
		return nil, err
	}

	r := &Reclassification{
		SubstanceCode: substanceCode,
		Previous:      sub.Current(),
		New:           newClass,
		EffectiveDate: effectiveDate,
		RegulatoryRef: regulatoryRef,
		Status:        StatusPending,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	s.trail.Append(ctx, actor, "reclassification.create",
		occ.EntityRef{Kind: occ.EntityReclassification, ID: r.ID.String()}, nil, r)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Reclassification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Reclassification, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Impacts(ctx context.Context, id uuid.UUID) ([]*CustomerImpact, error) {
	return s.repo.ImpactsByReclassification(ctx, id)
}

// AnalyzeImpact computes the customer impact set without committing
// anything. Process runs the same analysis before it mutates state.
func (s *Service) AnalyzeImpact(ctx context.Context, id uuid.UUID) (*ImpactSummary, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, r)
}

func (s *Service) analyze(ctx context.Context, r *Reclassification) (*ImpactSummary, error) {
	now := time.Now().UTC()
	upgrade := r.Upgrade()
	required := RequiredActivities(r.New)

	licences, err := s.licences.ListBySubstance(ctx, r.SubstanceCode)
	if err != nil {
		return nil, err
	}
	mappings, err := s.licences.MappingsBySubstance(ctx, r.SubstanceCode)
	if err != nil {
		return nil, err
	}
	mapped := make(map[uuid.UUID]bool)
	for _, m := range mappings {
		if m.ActiveAt(now) {
			mapped[m.LicenceID] = true
		}
	}

	// Group the customer holders and fold each one's valid coverage.
	coverage := make(map[string]licence.Activity)
	for _, l := range licences {
		if l.HolderKind != licence.HolderCustomer {
			continue
		}
		if _, seen := coverage[l.HolderID]; !seen {
			coverage[l.HolderID] = 0
		}
		if mapped[l.ID] && l.ValidAt(now) {
			coverage[l.HolderID] |= l.Activities
		}
	}

	customers := make([]string, 0, len(coverage))
	for id := range coverage {
		customers = append(customers, id)
	}
	sort.Strings(customers)

	summary := &ImpactSummary{TotalCustomers: len(customers)}
	for _, customerID := range customers {
		impact := &CustomerImpact{
			ID:                 uuid.New(),
			ReclassificationID: r.ID,
			CustomerID:         customerID,
			SubstanceCode:      r.SubstanceCode,
			Sufficient:         true,
		}
		if upgrade && !coverage[customerID].Has(required) {
			impact.Sufficient = false
			impact.RequiresReQual = true
			impact.Gap = coverageGap(coverage[customerID], required)
		}
		if impact.Sufficient {
			summary.SufficientCount++
		} else {
			summary.FlaggedCount++
		}
		summary.Detail = append(summary.Detail, impact)
	}
	return summary, nil
}

func coverageGap(have, required licence.Activity) string {
	missing := required &^ have
	return fmt.Sprintf("no valid licence covering %s", strings.Join(missing.Names(), ", "))
}

// Process commits a pending reclassification: persists the impact set,
// mutates the substance's live classification and appends the history row.
// Any failure reverts the event to Pending so a retry is safe.
func (s *Service) Process(ctx context.Context, actor string, id uuid.UUID) (*Reclassification, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, ErrNotPending
	}

	ref := occ.EntityRef{Kind: occ.EntityReclassification, ID: id.String()}
	processingVersion, err := s.guard.CompareAndSwap(ctx, ref, current.Version, func(cur interface{}) (interface{}, error) {
		r := cur.(*Reclassification)
		if r.Status != StatusPending {
			return nil, ErrNotPending
		}
		r.Status = StatusProcessing
		return r, nil
	})
	if err != nil {
		return nil, err
	}

	done, err := s.commit(ctx, id, processingVersion)
	if err != nil {
		s.revert(ctx, ref, processingVersion)
		return nil, err
	}

	s.trail.Append(ctx, actor, "reclassification.process", ref, current, done)
	s.notify(ctx, done)
	return done, nil
}

// commit runs inside one database transaction: the impact rows, the
// substance mutation with its history record, and the flip to Completed
// land together or not at all. A failure at any step rolls everything back,
// so a half-processed event never blocks a customer and a retry starts
// from a clean slate.
func (s *Service) commit(ctx context.Context, id uuid.UUID, version occ.Version) (*Reclassification, error) {
	var done *Reclassification
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		summary, err := s.analyze(ctx, r)
		if err != nil {
			return err
		}
		if err := s.repo.SaveImpacts(ctx, summary.Detail); err != nil {
			return err
		}

		sub, err := s.substances.GetByCode(ctx, r.SubstanceCode)
		if err != nil {
			return err
		}
		sub.OpiumListClassification = r.New.OpiumList
		sub.PrecursorCategory = r.New.PrecursorCategory
		sub.EffectiveDate = r.EffectiveDate
		if err := s.substances.Update(ctx, sub); err != nil {
			return err
		}
		if err := s.substances.AppendClassification(ctx, &substance.ClassificationRecord{
			SubstanceCode: r.SubstanceCode,
			OpiumList:     r.New.OpiumList,
			Precursor:     r.New.PrecursorCategory,
			EffectiveFrom: r.EffectiveDate,
			RegulatoryRef: r.RegulatoryRef,
		}); err != nil {
			return err
		}

		ref := occ.EntityRef{Kind: occ.EntityReclassification, ID: id.String()}
		newVersion, err := s.guard.CompareAndSwap(ctx, ref, version, func(cur interface{}) (interface{}, error) {
			rc := cur.(*Reclassification)
			rc.Status = StatusCompleted
			rc.AffectedCustomers = summary.TotalCustomers
			rc.FlaggedCustomers = summary.FlaggedCount
			done = rc
			return rc, nil
		})
		if err != nil {
			return err
		}
		done.Version = newVersion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// revert moves a half-processed event back to Pending. Best effort: a
// failed revert leaves the event in Processing for operator attention.
func (s *Service) revert(ctx context.Context, ref occ.EntityRef, version occ.Version) {
	_, err := s.guard.CompareAndSwap(ctx, ref, version, func(cur interface{}) (interface{}, error) {
		r := cur.(*Reclassification)
		r.Status = StatusPending
		return r, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("reclassification_id", ref.ID).Msg("revert to pending failed")
	}
}

// MarkReQualified clears the transaction block an open impact imposes on
// its customer.
func (s *Service) MarkReQualified(ctx context.Context, actor string, impactID uuid.UUID, expected occ.Version) (*CustomerImpact, error) {
	ref := occ.EntityRef{Kind: occ.EntityCustomerImpact, ID: impactID.String()}
	var before, after *CustomerImpact
	newVersion, err := s.guard.CompareAndSwap(ctx, ref, expected, func(cur interface{}) (interface{}, error) {
		i := cur.(*CustomerImpact)
		if !i.Open() {
			return nil, ErrAlreadyQualified
		}
		snapshot := *i
		before = &snapshot
		now := time.Now().UTC()
		i.ReQualifiedAt = &now
		after = i
		return i, nil
	})
	if err != nil {
		return nil, err
	}
	after.Version = newVersion

	s.trail.Append(ctx, actor, "impact.requalify", ref, before, after)
	return after, nil
}

// OpenImpactSubstances reports the substances blocked for a customer by
// impacts awaiting re-qualification. The transaction evaluator reads this.
func (s *Service) OpenImpactSubstances(ctx context.Context, customerID string) (map[string]bool, error) {
	return s.repo.OpenImpactSubstances(ctx, customerID)
}

func (s *Service) notify(ctx context.Context, r *Reclassification) {
	err := s.notifier.Dispatch(ctx, webhook.Event{
		Type:       webhook.EventReclassificationDone,
		EntityKind: occ.EntityReclassification,
		EntityID:   r.ID.String(),
		NewStatus:  r.Status,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("reclassification_id", r.ID.String()).Msg("webhook dispatch failed")
	}
}
