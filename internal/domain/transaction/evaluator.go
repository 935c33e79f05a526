package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/threshold"
)

// Snapshot is the immutable slice of compliance data a verdict is computed
// over. Evaluate never mutates it and never reaches past it, so evaluating
// the same request against the same snapshot always yields the same result.
type Snapshot struct {
	At time.Time

	// Customer is nil when the reference could not be resolved.
	Customer *customer.Customer

	CustomerLicences []*licence.Licence
	CompanyLicences  []*licence.Licence
	// Mappings holds the substance mappings of every licence above.
	Mappings map[uuid.UUID][]*licence.SubstanceMapping

	// KnownSubstances is the set of resolvable substance codes.
	KnownSubstances map[string]bool

	// Thresholds and Usage feed the advisory check, keyed by substance.
	Thresholds map[string][]*threshold.Threshold
	Usage      map[string]threshold.Usage

	// OpenImpacts marks substances held for this customer by an open
	// reclassification impact awaiting re-qualification.
	OpenImpacts map[string]bool
}

// Request is the evaluator input: what an order system asks to do.
type Request struct {
	ExternalID   string `json:"external_id"`
	CustomerID   string `json:"customer_id"`
	DataAreaID   string `json:"data_area_id"`
	Type         string `json:"type"`
	Date         time.Time
	Lines        []Line `json:"lines"`
	CallerSystem string `json:"caller_system,omitempty"`
}

func (r *Request) Validate() error {
	if r.CustomerID == "" {
		return fmt.Errorf("customer_id is required")
	}
	switch r.Type {
	case TypeDomestic, TypeEUCrossBorder, TypeNonEUInternational:
	default:
		return fmt.Errorf("unknown transaction type %q", r.Type)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("at least one line is required")
	}
	for i, line := range r.Lines {
		if line.SubstanceCode == "" {
			return fmt.Errorf("line %d: substance_code is required", i)
		}
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("line %d: quantity must be positive", i)
		}
		if line.Unit == "" {
			return fmt.Errorf("line %d: unit is required", i)
		}
	}
	return nil
}

// Evaluate maps a request and a snapshot to a verdict and the complete
// violation list. It runs every check on every line so the override
// workflow sees the full picture; only a missing customer cuts the
// evaluation short.
func Evaluate(req *Request, snap *Snapshot) (string, []Violation) {
	if snap.Customer == nil {
		return StatusFailed, []Violation{{
			Code:       CodeUnknownCustomer,
			Message:    fmt.Sprintf("customer %s not found in %s", req.CustomerID, req.DataAreaID),
			Blocking:   true,
			Structural: true,
		}}
	}

	var violations []Violation
	suspended := snap.Customer.Suspended

	for _, line := range req.Lines {
		violations = append(violations, evaluateLine(req, snap, line, suspended)...)
	}

	return aggregate(violations), violations
}

func evaluateLine(req *Request, snap *Snapshot, line Line, suspended bool) []Violation {
	var out []Violation

	if !snap.KnownSubstances[line.SubstanceCode] {
		out = append(out, Violation{
			Code:          CodeUnknownSubstance,
			SubstanceCode: line.SubstanceCode,
			Message:       fmt.Sprintf("substance %s is not registered", line.SubstanceCode),
			Blocking:      true,
			Structural:    true,
		})
		return out
	}

	// A suspended customer fails every line regardless of licence state.
	if suspended {
		out = append(out, Violation{
			Code:          CodeCustomerSuspended,
			SubstanceCode: line.SubstanceCode,
			Side:          SideCustomer,
			Message:       fmt.Sprintf("customer %s is suspended", req.CustomerID),
			Blocking:      true,
		})
	}

	// Customer must hold a valid licence covering the substance and the
	// distribution activity.
	if v := checkCoverage(snap, snap.CustomerLicences, line.SubstanceCode,
		licence.ActivityDistribute, "Distribute", SideCustomer); v != nil {
		out = append(out, *v)
	}

	// The company is the counter-party on every transaction: its own
	// licences are checked the same way.
	if v := checkCoverage(snap, snap.CompanyLicences, line.SubstanceCode,
		licence.ActivityDistribute, "Distribute", SideCompany); v != nil {
		out = append(out, *v)
	}

	if CrossBorder(req.Type) {
		if v := checkCoverage(snap, snap.CompanyLicences, line.SubstanceCode,
			licence.ActivityExport, "Export", SideCompany); v != nil {
			out = append(out, *v)
		}
		if v := checkCoverage(snap, snap.CustomerLicences, line.SubstanceCode,
			licence.ActivityImport, "Import", SideCustomer); v != nil {
			out = append(out, *v)
		}
	}

	out = append(out, checkThresholds(snap, line)...)

	if snap.OpenImpacts[line.SubstanceCode] {
		out = append(out, Violation{
			Code:          CodeRequalification,
			SubstanceCode: line.SubstanceCode,
			Side:          SideCustomer,
			Message:       fmt.Sprintf("substance %s reclassified; customer awaits re-qualification", line.SubstanceCode),
			Blocking:      true,
		})
	}

	return out
}

// checkCoverage applies the licence-to-activity check: any one valid
// licence whose mapping covers the substance and whose activity set covers
// the required activity suffices. The returned violation distinguishes "no
// licence at all", "only expired licences", and "valid licence without the
// activity".
func checkCoverage(snap *Snapshot, licences []*licence.Licence, substanceCode string, activity licence.Activity, activityName, side string) *Violation {
	var mapped, valid bool
	for _, l := range licences {
		if !mappingCovers(snap.Mappings[l.ID], substanceCode, snap.At) {
			continue
		}
		mapped = true
		if !l.ValidAt(snap.At) {
			continue
		}
		valid = true
		if l.Activities.Has(activity) {
			return nil
		}
	}

	v := &Violation{
		SubstanceCode:       substanceCode,
		LicenceTypeRequired: activityName,
		Side:                side,
		Blocking:            true,
	}
	switch {
	case !mapped:
		v.Code = CodeLicenceMissing
		v.Message = fmt.Sprintf("%s holds no licence for substance %s", side, substanceCode)
	case !valid:
		v.Code = CodeLicenceExpired
		v.Message = fmt.Sprintf("%s licences for substance %s are expired or inactive", side, substanceCode)
	default:
		v.Code = CodeNotAuthorized
		v.Message = fmt.Sprintf("%s licences for substance %s do not permit %s", side, substanceCode, activityName)
	}
	return v
}

func mappingCovers(mappings []*licence.SubstanceMapping, substanceCode string, at time.Time) bool {
	for _, m := range mappings {
		if m.SubstanceCode == substanceCode && m.ActiveAt(at) {
			return true
		}
	}
	return false
}

func checkThresholds(snap *Snapshot, line Line) []Violation {
	var out []Violation
	usage := snap.Usage[line.SubstanceCode]
	for _, t := range snap.Thresholds[line.SubstanceCode] {
		if t.Unit != "" && t.Unit != line.Unit && t.Kind == threshold.KindMonthlyQuantity {
			out = append(out, Violation{
				Code:          CodeUnitMismatch,
				SubstanceCode: line.SubstanceCode,
				Message:       fmt.Sprintf("line unit %q does not match threshold unit %q", line.Unit, t.Unit),
				Blocking:      true,
				Structural:    true,
			})
			continue
		}

		var exceeded bool
		switch t.Kind {
		case threshold.KindMonthlyQuantity:
			exceeded = usage.Quantity.Add(line.Quantity).GreaterThan(t.Limit)
		case threshold.KindAnnualFrequency:
			exceeded = decimal.NewFromInt(int64(usage.Count + 1)).GreaterThan(t.Limit)
		}
		if exceeded {
			// Advisory only: reported, never blocking.
			out = append(out, Violation{
				Code:          CodeThresholdExceeded,
				SubstanceCode: line.SubstanceCode,
				Side:          SideCustomer,
				Message: fmt.Sprintf("%s threshold of %s %s exceeded for substance %s",
					t.Kind, t.Limit.String(), t.Unit, line.SubstanceCode),
				Blocking: false,
			})
		}
	}
	return out
}

// aggregate folds the violation list into a verdict: structural errors fail
// hard, blocking compliance violations soft-block, anything else passes.
func aggregate(violations []Violation) string {
	status := StatusPass
	for _, v := range violations {
		if v.Structural {
			return StatusFailed
		}
		if v.Blocking {
			status = StatusPending
		}
	}
	return status
}
