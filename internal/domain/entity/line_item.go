package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineItem is one row of a project's schedule of values
type LineItem struct {
	ID                      int64           `json:"id"`
	ProjectID               int64           `json:"project_id"`
	ItemNumber              string          `json:"item_number"`
	Description             string          `json:"description"`
	ScheduledValue          decimal.Decimal `json:"scheduled_value"`
	FromPreviousApplication decimal.Decimal `json:"from_previous_application"`
	ThisPeriod              decimal.Decimal `json:"this_period"`
	MaterialsStored         decimal.Decimal `json:"materials_stored"`
	// CertifiedMaterials is MaterialsStored as of the last finalized application
	CertifiedMaterials      decimal.Decimal `json:"certified_materials"`
	RetainagePercent        decimal.Decimal `json:"retainage_percent"`
	BillingPeriod           int             `json:"billing_period"`
	PeriodStart             time.Time       `json:"period_start"`
	LastRolledApplicationID int64           `json:"last_rolled_application_id,omitempty"`
	Version                 int64           `json:"version"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// TotalCompletedToDate is work billed in prior applications plus this period
func (li *LineItem) TotalCompletedToDate() decimal.Decimal {
	return li.FromPreviousApplication.Add(li.ThisPeriod)
}

// TotalCompletedAndStored adds materials presently stored to the completed total
func (li *LineItem) TotalCompletedAndStored() decimal.Decimal {
	return li.TotalCompletedToDate().Add(li.MaterialsStored)
}

// PercentComplete is TotalCompletedToDate over ScheduledValue, in percent
func (li *LineItem) PercentComplete() decimal.Decimal {
	return PercentOf(li.TotalCompletedToDate(), li.ScheduledValue)
}

// BalanceToFinish is the scheduled value not yet billed
func (li *LineItem) BalanceToFinish() decimal.Decimal {
	return li.ScheduledValue.Sub(li.TotalCompletedToDate())
}

// Retainage is the withheld share of TotalCompletedToDate
func (li *LineItem) Retainage() decimal.Decimal {
	return RetainageOn(li.TotalCompletedToDate(), li.RetainagePercent)
}

// BilledTotal is the amount counted against the scheduled value ceiling
func (li *LineItem) BilledTotal() decimal.Decimal {
	return li.FromPreviousApplication.Add(li.ThisPeriod).Add(li.MaterialsStored)
}

// Fits reports whether the given figures stay within the scheduled value
func (li *LineItem) Fits(thisPeriod, materials decimal.Decimal) bool {
	return li.FromPreviousApplication.Add(thisPeriod).Add(materials).LessThanOrEqual(li.ScheduledValue)
}

// Snapshot freezes the current figures for a pay application
func (li *LineItem) Snapshot() SnapshotLine {
	return SnapshotLine{
		LineItemID:              li.ID,
		ItemNumber:              li.ItemNumber,
		Description:             li.Description,
		ScheduledValue:          li.ScheduledValue,
		FromPreviousApplication: li.FromPreviousApplication,
		ThisPeriod:              li.ThisPeriod,
		MaterialsStored:         li.MaterialsStored,
		CertifiedMaterials:      li.CertifiedMaterials,
		RetainagePercent:        li.RetainagePercent,
		BillingPeriod:           li.BillingPeriod,
	}
}

// PercentOf returns part/whole*100 rounded to two places; zero when whole is zero
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, 2)
}

// RetainageOn applies a percentage to an amount, rounded to cents
func RetainageOn(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).DivRound(hundred, 2)
}
