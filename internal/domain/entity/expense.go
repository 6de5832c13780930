package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense is a contractor-submitted cost entry against a line item.
// Once approved it is never edited; corrections are reversal entries.
type Expense struct {
	ID                int64           `json:"id"`
	LineItemID        int64           `json:"line_item_id"`
	Amount            decimal.Decimal `json:"amount"`
	Category          string          `json:"category"`
	IncurredOn        time.Time       `json:"incurred_on"`
	BillingPeriod     int             `json:"billing_period"`
	Approved          bool            `json:"approved"`
	HasReceipt        bool            `json:"has_receipt"`
	ReversesExpenseID *int64          `json:"reverses_expense_id,omitempty"`
	Note              string          `json:"note,omitempty"`
	CreatedBy         string          `json:"created_by"`
	ApprovedBy        string          `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsReversal reports whether the entry offsets an earlier approved expense
func (e *Expense) IsReversal() bool {
	return e.ReversesExpenseID != nil
}

// SignedAmount is the contribution of the entry to ThisPeriod
func (e *Expense) SignedAmount() decimal.Decimal {
	if e.IsReversal() {
		return e.Amount.Neg()
	}
	return e.Amount
}

// SumApprovedInPeriod totals the signed amounts of approved entries in a billing period
func SumApprovedInPeriod(expenses []*Expense, period int) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		if e.Approved && e.BillingPeriod == period {
			total = total.Add(e.SignedAmount())
		}
	}
	return total
}
