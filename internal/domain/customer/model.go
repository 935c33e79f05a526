package customer

import (
	"fmt"
	"time"

	"github.com/pharmos/compliance/internal/platform/occ"
)

// Approval statuses for the compliance extension.
const (
	ApprovalPending  = "Pending"
	ApprovalApproved = "Approved"
	ApprovalRejected = "Rejected"
)

// GDP qualification statuses.
const (
	GDPQualified    = "Qualified"
	GDPPending      = "Pending"
	GDPLapsed       = "Lapsed"
	GDPDisqualified = "Disqualified"
)

// Customer mirrors an externally-owned master record, extended with the
// compliance attributes this service owns. Identity is the composite of the
// external account id and the data area it lives in.
type Customer struct {
	AccountID  string `db:"account_id" json:"account_id"`
	DataAreaID string `db:"data_area_id" json:"data_area_id"`
	Name       string `db:"name" json:"name"`

	BusinessCategory    string      `db:"business_category" json:"business_category"`
	ApprovalStatus      string      `db:"approval_status" json:"approval_status"`
	Suspended           bool        `db:"suspended" json:"suspended"`
	GDPQualification    string      `db:"gdp_qualification" json:"gdp_qualification"`
	ReVerificationDue   *time.Time  `db:"reverification_due" json:"reverification_due,omitempty"`
	Version             occ.Version `db:"version" json:"version"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// Key is the guard identity for the composite-keyed record.
func (c *Customer) Key() string {
	return c.DataAreaID + ":" + c.AccountID
}

// ParseKey splits a guard identity back into its components.
func ParseKey(key string) (dataAreaID, accountID string, err error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed customer key %q", key)
}

func (c *Customer) Validate() error {
	if c.AccountID == "" || c.DataAreaID == "" {
		return fmt.Errorf("account_id and data_area_id are required")
	}
	switch c.ApprovalStatus {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return fmt.Errorf("invalid approval status %q", c.ApprovalStatus)
	}
	switch c.GDPQualification {
	case GDPQualified, GDPPending, GDPLapsed, GDPDisqualified:
	default:
		return fmt.Errorf("invalid gdp qualification %q", c.GDPQualification)
	}
	return nil
}
