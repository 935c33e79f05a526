package threshold

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Threshold kinds.
const (
	KindMonthlyQuantity = "monthly-quantity"
	KindAnnualFrequency = "annual-frequency"
)

// Threshold is a per customer-substance ceiling used for suspicious-order
// flagging. Exceeding it is advisory, never blocking.
type Threshold struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customer_id"`
	SubstanceCode string          `db:"substance_code" json:"substance_code"`
	Kind          string          `db:"kind" json:"kind"`
	Limit         decimal.Decimal `db:"limit_value" json:"limit"`
	Unit          string          `db:"unit" json:"unit"`
	WindowDays    int             `db:"window_days" json:"window_days"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

func (t *Threshold) Validate() error {
	if t.CustomerID == "" || t.SubstanceCode == "" {
		return fmt.Errorf("customer_id and substance_code are required")
	}
	if t.Kind != KindMonthlyQuantity && t.Kind != KindAnnualFrequency {
		return fmt.Errorf("kind must be %q or %q", KindMonthlyQuantity, KindAnnualFrequency)
	}
	if !t.Limit.IsPositive() {
		return fmt.Errorf("limit must be positive")
	}
	if t.WindowDays <= 0 {
		return fmt.Errorf("window_days must be positive")
	}
	return nil
}

// Usage is the recorded consumption for a (customer, substance) pair within
// a monitoring window.
type Usage struct {
	Quantity decimal.Decimal `json:"quantity"`
	Count    int             `json:"count"`
}
