package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/substance"
	"github.com/pharmos/compliance/internal/domain/threshold"
	"github.com/pharmos/compliance/internal/platform/occ"
)

// ErrTimeout means the snapshot could not be assembled within the caller's
// deadline. The verdict is withheld: a slow lookup never produces a false
// Pass.
var ErrTimeout = fmt.Errorf("compliance data lookup timed out")

// ImpactReader exposes the open reclassification holds for a customer.
// Implemented by the reclassification store.
type ImpactReader interface {
	OpenImpactSubstances(ctx context.Context, customerID string) (map[string]bool, error)
}

// SnapshotLoader assembles the evaluator's input from the reference stores.
type SnapshotLoader struct {
	customers  customer.Repository
	licences   licence.Repository
	substances substance.Repository
	thresholds threshold.Repository
	impacts    ImpactReader

	// companyID is the wholesaler's own holder id for company-side checks.
	companyID string
	timeout   time.Duration
}

func NewSnapshotLoader(customers customer.Repository, licences licence.Repository,
	substances substance.Repository, thresholds threshold.Repository,
	impacts ImpactReader, companyID string, timeout time.Duration) *SnapshotLoader {
	return &SnapshotLoader{
		customers:  customers,
		licences:   licences,
		substances: substances,
		thresholds: thresholds,
		impacts:    impacts,
		companyID:  companyID,
		timeout:    timeout,
	}
}

// Load gathers everything the evaluator needs. It honors the caller's
// context and additionally bounds the whole assembly by the configured
// timeout.
func (l *SnapshotLoader) Load(ctx context.Context, req *Request) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	snap, err := l.load(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return snap, nil
}

func (l *SnapshotLoader) load(ctx context.Context, req *Request) (*Snapshot, error) {
	snap := &Snapshot{
		At:              time.Now().UTC(),
		Mappings:        make(map[uuid.UUID][]*licence.SubstanceMapping),
		KnownSubstances: make(map[string]bool),
		Thresholds:      make(map[string][]*threshold.Threshold),
		Usage:           make(map[string]threshold.Usage),
		OpenImpacts:     make(map[string]bool),
	}

	cust, err := l.customers.Get(ctx, req.DataAreaID, req.CustomerID)
	if err != nil && !errors.Is(err, occ.ErrNotFound) {
		return nil, err
	}
	snap.Customer = cust
	if cust == nil {
		// Nothing else to assemble: the evaluator fails structurally.
		return snap, nil
	}

	snap.CustomerLicences, err = l.licences.ListByHolder(ctx, licence.HolderCustomer, req.CustomerID)
	if err != nil {
		return nil, err
	}
	snap.CompanyLicences, err = l.licences.ListByHolder(ctx, licence.HolderCompany, l.companyID)
	if err != nil {
		return nil, err
	}
	for _, lic := range append(append([]*licence.Licence{}, snap.CustomerLicences...), snap.CompanyLicences...) {
		mappings, err := l.licences.MappingsByLicence(ctx, lic.ID)
		if err != nil {
			return nil, err
		}
		snap.Mappings[lic.ID] = mappings
	}

	impacts, err := l.impacts.OpenImpactSubstances(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	snap.OpenImpacts = impacts

	for _, line := range req.Lines {
		if snap.KnownSubstances[line.SubstanceCode] {
			continue
		}
		if _, err := l.substances.GetByCode(ctx, line.SubstanceCode); err != nil {
			if errors.Is(err, substance.ErrNotFound) {
				continue
			}
			return nil, err
		}
		snap.KnownSubstances[line.SubstanceCode] = true

		thresholds, err := l.thresholds.ForCustomerSubstance(ctx, req.CustomerID, line.SubstanceCode)
		if err != nil {
			return nil, err
		}
		snap.Thresholds[line.SubstanceCode] = thresholds

		window := maxWindow(thresholds)
		if window > 0 {
			usage, err := l.thresholds.UsageSince(ctx, req.CustomerID, line.SubstanceCode,
				snap.At.AddDate(0, 0, -window))
			if err != nil {
				return nil, err
			}
			snap.Usage[line.SubstanceCode] = usage
		}
	}

	return snap, nil
}

func maxWindow(thresholds []*threshold.Threshold) int {
	max := 0
	for _, t := range thresholds {
		if t.WindowDays > max {
			max = t.WindowDays
		}
	}
	return max
}
