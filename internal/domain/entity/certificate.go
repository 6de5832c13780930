package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Certificate is the finalized G702/G703 figure set for a pay application
type Certificate struct {
	Number            string              `json:"certificate_number"`
	PayApplicationID  int64               `json:"pay_application_id"`
	ApplicationNumber int                 `json:"application_number"`
	ProjectID         int64               `json:"project_id"`
	ProjectName       string              `json:"project_name"`
	OrganizationID    string              `json:"organization_id"`
	ContractorID      string              `json:"contractor_id"`
	Revision          int                 `json:"revision"`
	Reviewers         []CertifiedReviewer `json:"reviewers"`
	SubmittedAt       time.Time           `json:"submitted_at"`
	FinalizedAt       time.Time           `json:"finalized_at"`
	FinalizedBy       string              `json:"finalized_by"`
	Lines             []CertificateLine   `json:"lines"`
	Summary           CertificateSummary  `json:"summary"`
}

// CertifiedReviewer is one reviewer of the chain with the decision they made
type CertifiedReviewer struct {
	Position   int        `json:"position"`
	ReviewerID string     `json:"reviewer_id"`
	Decision   string     `json:"decision"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// CertificateLine carries the canonical continuation-sheet figures of one line item
type CertificateLine struct {
	ItemNumber              string          `json:"item_number"`
	Description             string          `json:"description"`
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

// CertificateSummary carries the G702 application-for-payment figures
type CertificateSummary struct {
	OriginalContractSum      decimal.Decimal `json:"original_contract_sum"`
	TotalCompletedAndStored  decimal.Decimal `json:"total_completed_and_stored"`
	Retainage                decimal.Decimal `json:"retainage"`
	TotalEarnedLessRetainage decimal.Decimal `json:"total_earned_less_retainage"`
	PreviousCertificates     decimal.Decimal `json:"less_previous_certificates"`
	CurrentPaymentDue        decimal.Decimal `json:"current_payment_due"`
	BalanceToFinish          decimal.Decimal `json:"balance_to_finish_including_retainage"`
}
