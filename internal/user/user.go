// Package user defines the people involved in session review and their roles.
package user

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/amaniwell/copilot/internal/errors"
	"github.com/amaniwell/copilot/internal/platform/id"
)

// Role describes what a user does in the review workflow.
type Role string

const (
	// RoleFellow submits session transcripts.
	RoleFellow Role = "fellow"
	// RoleSupervisor reviews analyzed sessions.
	RoleSupervisor Role = "supervisor"
	// RoleExpert handles escalated sessions.
	RoleExpert Role = "expert"
)

// IsValid reports whether the role is one of the known workflow roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleFellow, RoleSupervisor, RoleExpert:
		return true
	default:
		return false
	}
}

// ParseRole maps a wire label to a role value.
func ParseRole(label string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(label)))
	if !role.IsValid() {
		return "", apperrors.WithMetadata(
			apperrors.CodeUserInvalidRole,
			fmt.Sprintf("user role %q is not fellow, supervisor or expert", label),
			map[string]string{"Role": label},
		)
	}
	return role, nil
}

// User is one participant in the review workflow.
// Credential material lives outside this service.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// CreateInput describes the metadata needed to register a user.
type CreateInput struct {
	Name  string
	Email string
	Role  Role
}

// Create validates input and builds a user with a generated ID.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return User{}, apperrors.New(apperrors.CodeUserEmptyName, "user name is required")
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.Email == "" {
		return User{}, apperrors.New(apperrors.CodeUserEmptyEmail, "user email is required")
	}
	if !input.Role.IsValid() {
		return User{}, apperrors.New(apperrors.CodeUserInvalidRole, "user role is required")
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	return User{
		ID:        userID,
		Name:      input.Name,
		Email:     input.Email,
		Role:      input.Role,
		CreatedAt: now().UTC(),
	}, nil
}
