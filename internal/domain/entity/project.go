package entity

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Project owns a schedule of values and the pay applications billed against it
type Project struct {
	ID               int64           `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	Name             string          `json:"name"`
	ContractorID     string          `json:"contractor_id"`
	RetainagePercent decimal.Decimal `json:"retainage_percent"`
	LineItems        []*LineItem     `json:"line_items"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SortLineItems orders line items by item number, the canonical SoV order
func (p *Project) SortLineItems() {
	sort.SliceStable(p.LineItems, func(i, j int) bool {
		return ItemNumberLess(p.LineItems[i].ItemNumber, p.LineItems[j].ItemNumber)
	})
}

// ItemNumberLess compares item numbers numerically when both are integers
// ("2" < "10") and lexically otherwise.
func ItemNumberLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// LineItem finds a line item by ID
func (p *Project) LineItem(id int64) *LineItem {
	for _, li := range p.LineItems {
		if li.ID == id {
			return li
		}
	}
	return nil
}

// ProjectSummary rolls up every line item of a project
type ProjectSummary struct {
	ProjectID               int64           `json:"project_id"`
	LineItemCount           int             `json:"line_item_count"`
	ScheduledValue          decimal.Decimal `json:"scheduled_value"`
	FromPreviousApplication decimal.Decimal `json:"from_previous_application"`
	ThisPeriod              decimal.Decimal `json:"this_period"`
	MaterialsStored         decimal.Decimal `json:"materials_stored"`
	TotalCompletedToDate    decimal.Decimal `json:"total_completed_to_date"`
	TotalCompletedAndStored decimal.Decimal `json:"total_completed_and_stored"`
	PercentComplete         decimal.Decimal `json:"percent_complete"`
	BalanceToFinish         decimal.Decimal `json:"balance_to_finish"`
	Retainage               decimal.Decimal `json:"retainage"`
}

// Summarize computes the roll-up totals for the project's line items
func (p *Project) Summarize() *ProjectSummary {
	s := &ProjectSummary{ProjectID: p.ID, LineItemCount: len(p.LineItems)}
	for _, li := range p.LineItems {
		s.ScheduledValue = s.ScheduledValue.Add(li.ScheduledValue)
		s.FromPreviousApplication = s.FromPreviousApplication.Add(li.FromPreviousApplication)
		s.ThisPeriod = s.ThisPeriod.Add(li.ThisPeriod)
		s.MaterialsStored = s.MaterialsStored.Add(li.MaterialsStored)
		s.TotalCompletedToDate = s.TotalCompletedToDate.Add(li.TotalCompletedToDate())
		s.TotalCompletedAndStored = s.TotalCompletedAndStored.Add(li.TotalCompletedAndStored())
		s.BalanceToFinish = s.BalanceToFinish.Add(li.BalanceToFinish())
		s.Retainage = s.Retainage.Add(li.Retainage())
	}
	s.PercentComplete = PercentOf(s.TotalCompletedToDate, s.ScheduledValue)
	return s
}
