package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayApplication is one contractor billing submission against a project's SoV
type PayApplication struct {
	ID                   int64            `json:"id"`
	ProjectID            int64            `json:"project_id"`
	ContractorID         string           `json:"contractor_id"`
	ApplicationNumber    int              `json:"application_number"`
	ReviewerChain        []string         `json:"reviewer_chain"`
	CurrentReviewerIndex int              `json:"current_reviewer_index"`
	Status               string           `json:"status"`
	Revision             int              `json:"revision"`
	SubmittedAt          *time.Time       `json:"submitted_at,omitempty"`
	FinalizedAt          *time.Time       `json:"finalized_at,omitempty"`
	FinalizedBy          string           `json:"finalized_by,omitempty"`
	Snapshot             []SnapshotLine   `json:"snapshot_line_items,omitempty"`
	Decisions            []ReviewDecision `json:"decisions,omitempty"`
	Version              int64            `json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// CurrentReviewer returns the reviewer whose turn it is, or "" once the chain is exhausted
func (p *PayApplication) CurrentReviewer() string {
	if p.CurrentReviewerIndex < 0 || p.CurrentReviewerIndex >= len(p.ReviewerChain) {
		return ""
	}
	return p.ReviewerChain[p.CurrentReviewerIndex]
}

// ChainComplete reports whether every reviewer in the chain has approved
func (p *PayApplication) ChainComplete() bool {
	return p.CurrentReviewerIndex == len(p.ReviewerChain)
}

// IsOpen reports whether the application has not been finalized
func (p *PayApplication) IsOpen() bool {
	return p.Status != StatusFinalized
}

// LocksLedger reports whether contractor and ledger writes must be refused
func (p *PayApplication) LocksLedger() bool {
	switch p.Status {
	case StatusSubmitted, StatusUnderReview, StatusFullyReviewed:
		return true
	}
	return false
}

// DecisionsForRevision returns the review decisions made on one submission
func (p *PayApplication) DecisionsForRevision(revision int) []ReviewDecision {
	var out []ReviewDecision
	for _, d := range p.Decisions {
		if d.Revision == revision {
			out = append(out, d)
		}
	}
	return out
}

// SnapshotLine is a frozen copy of a line item's figures taken at submission
type SnapshotLine struct {
	LineItemID              int64           `json:"line_item_id"`
	ItemNumber              string          `json:"item_number"`
	Description             string          `json:"description"`
	ScheduledValue          decimal.Decimal `json:"scheduled_value"`
	FromPreviousApplication decimal.Decimal `json:"from_previous_application"`
	ThisPeriod              decimal.Decimal `json:"this_period"`
	MaterialsStored         decimal.Decimal `json:"materials_stored"`
	CertifiedMaterials      decimal.Decimal `json:"certified_materials"`
	RetainagePercent        decimal.Decimal `json:"retainage_percent"`
	BillingPeriod           int             `json:"billing_period"`
}

// ReviewDecision records one reviewer's action on one submission revision
type ReviewDecision struct {
	ReviewerID string    `json:"reviewer_id"`
	Decision   string    `json:"decision"`
	Note       string    `json:"note,omitempty"`
	Revision   int       `json:"revision"`
	DecidedAt  time.Time `json:"decided_at"`
}
