package entity

// Pay application status constants, mirrored by workflow.State
const (
	StatusDraft            = "DRAFT"
	StatusSubmitted        = "SUBMITTED"
	StatusUnderReview      = "UNDER_REVIEW"
	StatusChangesRequested = "CHANGES_REQUESTED"
	StatusFullyReviewed    = "FULLY_REVIEWED"
	StatusFinalized        = "FINALIZED"
)

// Expense category constants
const (
	CategoryLabor       = "LABOR"
	CategoryMaterials   = "MATERIALS"
	CategoryEquipment   = "EQUIPMENT"
	CategorySubcontract = "SUBCONTRACT"
	CategoryGeneral     = "GENERAL_CONDITIONS"
	CategoryOther       = "OTHER"
	CategoryReversal    = "REVERSAL" // offsets an approved expense
)

var validCategories = map[string]bool{
	CategoryLabor:       true,
	CategoryMaterials:   true,
	CategoryEquipment:   true,
	CategorySubcontract: true,
	CategoryGeneral:     true,
	CategoryOther:       true,
}

// IsValidCategory reports whether a contractor may file an expense under category.
// CategoryReversal is reserved for reversal entries.
func IsValidCategory(category string) bool {
	return validCategories[category]
}

// Review decision constants
const (
	DecisionApproved         = "APPROVED"
	DecisionChangesRequested = "CHANGES_REQUESTED"
)

// Actor roles
const (
	RoleContractor = "contractor"
	RoleReviewer   = "reviewer"
	RoleDirector   = "director"
)
