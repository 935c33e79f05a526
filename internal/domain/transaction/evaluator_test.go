package transaction

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/threshold"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// snapshotBuilder assembles evaluator fixtures.
type snapshotBuilder struct {
	snap *Snapshot
}

func newSnapshot() *snapshotBuilder {
	return &snapshotBuilder{snap: &Snapshot{
		At:              day("2026-06-01"),
		Customer:        &customer.Customer{AccountID: "CUST-1", DataAreaID: "nl01", ApprovalStatus: customer.ApprovalApproved, GDPQualification: customer.GDPQualified},
		Mappings:        make(map[uuid.UUID][]*licence.SubstanceMapping),
		KnownSubstances: make(map[string]bool),
		Thresholds:      make(map[string][]*threshold.Threshold),
		Usage:           make(map[string]threshold.Usage),
		OpenImpacts:     make(map[string]bool),
	}}
}

func (b *snapshotBuilder) substance(code string) *snapshotBuilder {
	b.snap.KnownSubstances[code] = true
	return b
}

func (b *snapshotBuilder) licence(holderKind string, activities licence.Activity, expiry time.Time, substances ...string) *snapshotBuilder {
	l := &licence.Licence{
		ID:         uuid.New(),
		Number:     "L-" + uuid.NewString()[:8],
		HolderKind: holderKind,
		HolderID:   "CUST-1",
		Status:     licence.StatusValid,
		IssueDate:  day("2020-01-01"),
		ExpiryDate: expiry,
		Activities: activities,
	}
	if holderKind == licence.HolderCompany {
		l.HolderID = "wholesaler"
		b.snap.CompanyLicences = append(b.snap.CompanyLicences, l)
	} else {
		b.snap.CustomerLicences = append(b.snap.CustomerLicences, l)
	}
	for _, code := range substances {
		b.snap.Mappings[l.ID] = append(b.snap.Mappings[l.ID], &licence.SubstanceMapping{
			ID:            uuid.New(),
			LicenceID:     l.ID,
			SubstanceCode: code,
			EffectiveFrom: day("2020-01-01"),
		})
		b.substance(code)
	}
	return b
}

// covered sets up a fully covered domestic scenario for one substance.
func covered(code string) *snapshotBuilder {
	return newSnapshot().
		licence(licence.HolderCustomer, licence.ActivityPossess|licence.ActivityStore|licence.ActivityDistribute, day("2030-01-01"), code).
		licence(licence.HolderCompany, licence.ActivityPossess|licence.ActivityStore|licence.ActivityDistribute|licence.ActivityExport, day("2030-01-01"), code)
}

func domesticRequest(codes ...string) *Request {
	req := &Request{
		ExternalID: "ORDER-1",
		CustomerID: "CUST-1",
		DataAreaID: "nl01",
		Type:       TypeDomestic,
	}
	for _, code := range codes {
		req.Lines = append(req.Lines, Line{SubstanceCode: code, Quantity: decimal.NewFromInt(10), Unit: "g"})
	}
	return req
}

func codes(violations []Violation) []string {
	var out []string
	for _, v := range violations {
		out = append(out, v.Code)
	}
	return out
}

func hasCode(violations []Violation, code string) bool {
	for _, v := range violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func TestEvaluatePassWhenFullyCovered(t *testing.T) {
	status, violations := Evaluate(domesticRequest("SUB-1"), covered("SUB-1").snap)
	if status != StatusPass {
		t.Errorf("status = %q, want %q (violations: %v)", status, StatusPass, codes(violations))
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %v", codes(violations))
	}
}

func TestEvaluateUnknownCustomerFailsImmediately(t *testing.T) {
	b := covered("SUB-1")
	b.snap.Customer = nil

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusFailed {
		t.Errorf("status = %q, want %q", status, StatusFailed)
	}
	if len(violations) != 1 || violations[0].Code != CodeUnknownCustomer {
		t.Errorf("violations = %v, want single UNKNOWN_CUSTOMER", codes(violations))
	}
}

func TestEvaluateUnknownSubstanceFails(t *testing.T) {
	status, violations := Evaluate(domesticRequest("GHOST"), newSnapshot().snap)
	if status != StatusFailed {
		t.Errorf("status = %q, want %q", status, StatusFailed)
	}
	if !hasCode(violations, CodeUnknownSubstance) {
		t.Errorf("expected UNKNOWN_SUBSTANCE, got %v", codes(violations))
	}
}

func TestEvaluateExpiredLicenceBlocks(t *testing.T) {
	b := newSnapshot().
		licence(licence.HolderCustomer, licence.ActivityPossess|licence.ActivityStore|licence.ActivityDistribute, day("2026-05-31"), "SUB-1").
		licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-1")

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	if !hasCode(violations, CodeLicenceExpired) {
		t.Errorf("expected LICENCE_EXPIRED, got %v", codes(violations))
	}
}

func TestEvaluateMissingLicenceBlocks(t *testing.T) {
	b := newSnapshot().substance("SUB-1").
		licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-1")

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	if !hasCode(violations, CodeLicenceMissing) {
		t.Errorf("expected LICENCE_MISSING, got %v", codes(violations))
	}
}

func TestEvaluateActivityNotCovered(t *testing.T) {
	// Licence is valid and mapped but only permits possession.
	b := newSnapshot().
		licence(licence.HolderCustomer, licence.ActivityPossess, day("2030-01-01"), "SUB-1").
		licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-1")

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	if !hasCode(violations, CodeNotAuthorized) {
		t.Errorf("expected SUBSTANCE_NOT_AUTHORIZED, got %v", codes(violations))
	}
}

func TestEvaluateAnyOneValidLicenceSuffices(t *testing.T) {
	// One expired and one valid licence for the same substance: no violation.
	b := covered("SUB-1").
		licence(licence.HolderCustomer, licence.ActivityDistribute, day("2026-01-01"), "SUB-1")

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPass {
		t.Errorf("status = %q, want %q (violations: %v)", status, StatusPass, codes(violations))
	}
}

func TestEvaluateSuspendedCustomerFlagsEveryLine(t *testing.T) {
	b := covered("SUB-1")
	b.licence(licence.HolderCustomer, licence.ActivityPossess|licence.ActivityStore|licence.ActivityDistribute, day("2030-01-01"), "SUB-2")
	b.licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-2")
	b.snap.Customer.Suspended = true

	status, violations := Evaluate(domesticRequest("SUB-1", "SUB-2"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	count := 0
	for _, v := range violations {
		if v.Code == CodeCustomerSuspended {
			count++
		}
	}
	if count != 2 {
		t.Errorf("CUSTOMER_SUSPENDED on %d lines, want 2", count)
	}
}

func TestEvaluateCrossBorderRequiresExportAndImport(t *testing.T) {
	// Covered domestically, but no Export on the company side and no
	// Import on the customer side.
	b := covered("SUB-1")
	b.snap.CompanyLicences[0].Activities = licence.ActivityPossess | licence.ActivityStore | licence.ActivityDistribute

	req := domesticRequest("SUB-1")
	req.Type = TypeNonEUInternational

	status, violations := Evaluate(req, b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	var exportMissing, importMissing bool
	for _, v := range violations {
		if v.LicenceTypeRequired == "Export" && v.Side == SideCompany {
			exportMissing = true
		}
		if v.LicenceTypeRequired == "Import" && v.Side == SideCustomer {
			importMissing = true
		}
	}
	if !exportMissing || !importMissing {
		t.Errorf("expected export+import violations, got %v", violations)
	}
}

func TestEvaluateCrossBorderCovered(t *testing.T) {
	b := covered("SUB-1")
	b.snap.CustomerLicences[0].Activities |= licence.ActivityImport

	req := domesticRequest("SUB-1")
	req.Type = TypeEUCrossBorder

	status, violations := Evaluate(req, b.snap)
	if status != StatusPass {
		t.Errorf("status = %q, want %q (violations: %v)", status, StatusPass, codes(violations))
	}
}

func TestEvaluateThresholdExceededIsAdvisory(t *testing.T) {
	b := covered("SUB-1")
	b.snap.Thresholds["SUB-1"] = []*threshold.Threshold{{
		CustomerID:    "CUST-1",
		SubstanceCode: "SUB-1",
		Kind:          threshold.KindMonthlyQuantity,
		Limit:         decimal.NewFromInt(100),
		Unit:          "g",
		WindowDays:    30,
	}}
	b.snap.Usage["SUB-1"] = threshold.Usage{Quantity: decimal.NewFromInt(95), Count: 3}

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPass {
		t.Errorf("status = %q, want %q: threshold overage must not block", status, StatusPass)
	}
	if !hasCode(violations, CodeThresholdExceeded) {
		t.Errorf("expected THRESHOLD_EXCEEDED advisory, got %v", codes(violations))
	}
	for _, v := range violations {
		if v.Code == CodeThresholdExceeded && v.Blocking {
			t.Error("THRESHOLD_EXCEEDED must be non-blocking")
		}
	}
}

func TestEvaluateUnitMismatchIsStructural(t *testing.T) {
	b := covered("SUB-1")
	b.snap.Thresholds["SUB-1"] = []*threshold.Threshold{{
		Kind:       threshold.KindMonthlyQuantity,
		Limit:      decimal.NewFromInt(100),
		Unit:       "kg",
		WindowDays: 30,
	}}

	req := domesticRequest("SUB-1") // lines are in grams
	status, violations := Evaluate(req, b.snap)
	if status != StatusFailed {
		t.Errorf("status = %q, want %q", status, StatusFailed)
	}
	if !hasCode(violations, CodeUnitMismatch) {
		t.Errorf("expected UNIT_MISMATCH, got %v", codes(violations))
	}
}

func TestEvaluateOpenImpactBlocksDespiteValidLicence(t *testing.T) {
	b := covered("SUB-1")
	b.snap.OpenImpacts["SUB-1"] = true

	status, violations := Evaluate(domesticRequest("SUB-1"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	if !hasCode(violations, CodeRequalification) {
		t.Errorf("expected REQUIRES_REQUALIFICATION, got %v", codes(violations))
	}
}

func TestEvaluateReportsAllViolationsAcrossLines(t *testing.T) {
	// Line 1 misses a customer licence; line 2 is expired. Both must be
	// reported, no early exit.
	b := newSnapshot().substance("SUB-1").
		licence(licence.HolderCustomer, licence.ActivityDistribute, day("2026-01-01"), "SUB-2").
		licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-1", "SUB-2")

	status, violations := Evaluate(domesticRequest("SUB-1", "SUB-2"), b.snap)
	if status != StatusPending {
		t.Errorf("status = %q, want %q", status, StatusPending)
	}
	if !hasCode(violations, CodeLicenceMissing) || !hasCode(violations, CodeLicenceExpired) {
		t.Errorf("expected both LICENCE_MISSING and LICENCE_EXPIRED, got %v", codes(violations))
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	b := covered("SUB-1")
	b.snap.Customer.Suspended = true
	req := domesticRequest("SUB-1")

	status1, violations1 := Evaluate(req, b.snap)
	status2, violations2 := Evaluate(req, b.snap)

	if status1 != status2 {
		t.Errorf("statuses differ: %q vs %q", status1, status2)
	}
	if !reflect.DeepEqual(violations1, violations2) {
		t.Errorf("violation sets differ:\n%v\n%v", violations1, violations2)
	}
}

func TestEvaluateMonotonicity(t *testing.T) {
	// Missing customer licence first, then add a valid covering licence:
	// the LICENCE_MISSING violation disappears, all else equal.
	b := newSnapshot().substance("SUB-1").
		licence(licence.HolderCompany, licence.ActivityDistribute, day("2030-01-01"), "SUB-1")

	_, before := Evaluate(domesticRequest("SUB-1"), b.snap)
	if !hasCode(before, CodeLicenceMissing) {
		t.Fatalf("precondition: expected LICENCE_MISSING, got %v", codes(before))
	}

	b.licence(licence.HolderCustomer, licence.ActivityPossess|licence.ActivityStore|licence.ActivityDistribute, day("2030-01-01"), "SUB-1")
	status, after := Evaluate(domesticRequest("SUB-1"), b.snap)
	if hasCode(after, CodeLicenceMissing) {
		t.Errorf("LICENCE_MISSING survived adding a covering licence: %v", codes(after))
	}
	if status != StatusPass {
		t.Errorf("status = %q, want %q", status, StatusPass)
	}
}

func TestRequestValidate(t *testing.T) {
	ok := domesticRequest("SUB-1")
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	bad := domesticRequest("SUB-1")
	bad.Type = "Interplanetary"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown type")
	}

	bad = domesticRequest()
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty line list")
	}

	bad = domesticRequest("SUB-1")
	bad.Lines[0].Quantity = decimal.Zero
	if err := bad.Validate(); err == nil {
		t.Error("expected error for non-positive quantity")
	}
}
