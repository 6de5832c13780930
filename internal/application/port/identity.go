package port

import "context"

// Actor is the authenticated caller of an operation
type Actor struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Role           string `json:"role" yaml:"role"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Email          string `json:"email,omitempty" yaml:"email"`
}

// IdentityProvider resolves the caller and answers organization membership.
// MemberRole returns "" when userID is not a member of the organization.
// Authentication itself happens outside the engine.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (*Actor, error)
	IsMember(ctx context.Context, userID, organizationID string) (bool, error)
	MemberRole(ctx context.Context, userID, organizationID string) (string, error)
}
