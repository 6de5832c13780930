// Package identity resolves callers against a static user directory.
//
// The directory is loaded from a YAML file of the form:
//
//	users:
//	  - id: alice
//	    name: Alice Chen
//	    role: contractor
//	    organization_id: acme
//	    email: alice@acme.example
package identity

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/pkg/utils"
	"gopkg.in/yaml.v3"
)

type directoryFile struct {
	Users []port.Actor `yaml:"users"`
}

// Directory is an in-memory port.IdentityProvider keyed by user ID.
// It is read-only after construction.
type Directory struct {
	users map[string]port.Actor
}

// NewDirectory validates users and builds a directory from them
func NewDirectory(users []port.Actor) (*Directory, error) {
	d := &Directory{users: make(map[string]port.Actor, len(users))}
	for i, u := range users {
		u.ID = strings.TrimSpace(u.ID)
		u.Role = strings.ToLower(strings.TrimSpace(u.Role))
		if u.ID == "" {
			return nil, fmt.Errorf("user %d: id is required", i)
		}
		if _, dup := d.users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}
		switch u.Role {
		case entity.RoleContractor, entity.RoleReviewer, entity.RoleDirector:
		default:
			return nil, fmt.Errorf("user %q: unknown role %q", u.ID, u.Role)
		}
		if strings.TrimSpace(u.OrganizationID) == "" {
			return nil, fmt.Errorf("user %q: organization_id is required", u.ID)
		}
		if u.Email != "" {
			if err := utils.ValidateEmail(u.Email); err != nil {
				return nil, fmt.Errorf("user %q: %w", u.ID, err)
			}
		}
		d.users[u.ID] = u
	}
	return d, nil
}

// ParseDirectory builds a directory from YAML content
func ParseDirectory(data []byte) (*Directory, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse user directory: %w", err)
	}
	return NewDirectory(f.Users)
}

// LoadDirectory reads a YAML user directory from path
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}
	return ParseDirectory(data)
}

// CurrentUser resolves the caller ID carried by ctx
func (d *Directory) CurrentUser(ctx context.Context) (*port.Actor, error) {
	id := UserIDFromContext(ctx)
	if id == "" {
		return nil, apperr.Forbidden("", "authenticate").With("reason", "no caller identity")
	}
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.Forbidden(id, "authenticate").With("reason", "unknown user")
	}
	return &u, nil
}

// IsMember reports whether userID belongs to organizationID
func (d *Directory) IsMember(ctx context.Context, userID, organizationID string) (bool, error) {
	u, ok := d.users[userID]
	if !ok {
		return false, nil
	}
	return u.OrganizationID == organizationID, nil
}

// MemberRole returns the role userID holds in organizationID, or "" for non-members
func (d *Directory) MemberRole(ctx context.Context, userID, organizationID string) (string, error) {
	u, ok := d.users[userID]
	if !ok || u.OrganizationID != organizationID {
		return "", nil
	}
	return u.Role, nil
}

// Lookup returns a user by ID
func (d *Directory) Lookup(userID string) (port.Actor, bool) {
	u, ok := d.users[userID]
	return u, ok
}

// Users returns every user ordered by ID
func (d *Directory) Users() []port.Actor {
	out := make([]port.Actor, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ port.IdentityProvider = (*Directory)(nil)
