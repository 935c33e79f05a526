package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/compliance/internal/platform/occ"
)

// Transaction types.
const (
	TypeDomestic           = "Domestic"
	TypeEUCrossBorder      = "EUCrossBorder"
	TypeNonEUInternational = "NonEUInternational"
)

// Verdict statuses. Pending is a soft block: the transaction is held for
// the override workflow, not rejected.
const (
	StatusPass             = "Pass"
	StatusPending          = "Pending"
	StatusFailed           = "Failed"
	StatusOverrideApproved = "OverrideApproved"
	StatusRejected         = "Rejected"
)

// Violation codes. Structural codes fail the transaction outright;
// compliance codes soft-block except ThresholdExceeded, which is advisory.
const (
	CodeLicenceExpired      = "LICENCE_EXPIRED"
	CodeLicenceMissing      = "LICENCE_MISSING"
	CodeNotAuthorized       = "SUBSTANCE_NOT_AUTHORIZED"
	CodeThresholdExceeded   = "THRESHOLD_EXCEEDED"
	CodeCustomerSuspended   = "CUSTOMER_SUSPENDED"
	CodeRequalification     = "REQUIRES_REQUALIFICATION"
	CodeUnknownCustomer     = "UNKNOWN_CUSTOMER"
	CodeUnknownSubstance    = "UNKNOWN_SUBSTANCE"
	CodeUnitMismatch        = "UNIT_MISMATCH"
)

// Override reason codes.
const (
	ReasonEmergencyMedicalSupply    = "EmergencyMedicalSupply"
	ReasonLicenceRenewalInProgress  = "LicenceRenewalInProgress"
	ReasonAuthorityPreApproval      = "AuthorityPreApproval"
	ReasonOther                     = "Other"
)

// ValidReasonCode reports whether code is in the enumerated override set.
func ValidReasonCode(code string) bool {
	switch code {
	case ReasonEmergencyMedicalSupply, ReasonLicenceRenewalInProgress, ReasonAuthorityPreApproval, ReasonOther:
		return true
	}
	return false
}

// MinJustificationLen is the shortest acceptable override justification.
const MinJustificationLen = 20

// Sides a violation can originate from. The company acts as counter-party
// in every transaction, so its own licences are checked symmetrically.
const (
	SideCustomer = "customer"
	SideCompany  = "company"
)

// Violation is one machine-readable finding against a transaction line.
type Violation struct {
	Code                string `json:"violation_type"`
	SubstanceCode       string `json:"substance_code,omitempty"`
	LicenceTypeRequired string `json:"licence_type_required,omitempty"`
	Side                string `json:"side,omitempty"`
	Message             string `json:"message"`
	Blocking            bool   `json:"blocking"`
	Structural          bool   `json:"structural,omitempty"`
}

// Line is one substance position on a transaction.
type Line struct {
	SubstanceCode string          `json:"substance_code"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
}

// Transaction is one compliance-validation request and its verdict.
type Transaction struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	ExternalID    string      `db:"external_id" json:"external_id"`
	CustomerID    string      `db:"customer_id" json:"customer_id"`
	DataAreaID    string      `db:"data_area_id" json:"data_area_id"`
	Date          time.Time   `db:"transaction_date" json:"date"`
	Type          string      `db:"type" json:"type"`
	Lines         []Line      `db:"-" json:"lines"`
	Status        string      `db:"status" json:"status"`
	Violations    []Violation `db:"-" json:"violations"`
	ApproverID    string      `db:"approver_id" json:"approver_id,omitempty"`
	ReasonCode    string      `db:"reason_code" json:"reason_code,omitempty"`
	Justification string      `db:"justification" json:"justification,omitempty"`
	AuthorityRef  string      `db:"authority_ref" json:"authority_ref,omitempty"`
	CallerSystem  string      `db:"caller_system" json:"caller_system,omitempty"`
	Version       occ.Version `db:"version" json:"version"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the status admits no further transition.
func Terminal(status string) bool {
	return status == StatusOverrideApproved || status == StatusRejected ||
		status == StatusFailed || status == StatusPass
}

// CrossBorder reports whether the type requires export/import coverage.
func CrossBorder(txType string) bool {
	return txType == TypeEUCrossBorder || txType == TypeNonEUInternational
}
