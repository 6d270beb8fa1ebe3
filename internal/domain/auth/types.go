package auth

// Package auth contains domain-level types for identity and authorization.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
)

// Role represents a county-office authorization role.
// Keep string form for easy persistence and config parsing.
// Valid values are defined as constants below.
type Role string

const (
	RoleAssessor Role = "assessor"
	RoleStaff    Role = "staff"
	RoleITAdmin  Role = "itadmin"
	RoleAuditor  Role = "auditor"
)

// Valid returns true if the Role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAssessor || r == RoleStaff || r == RoleITAdmin || r == RoleAuditor
}

// UnmarshalText implements encoding.TextUnmarshaler for Role to allow env parsing.
func (r *Role) UnmarshalText(text []byte) error {
	v := Role(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Role: %q", v)
	}
	*r = v
	return nil
}

// Action represents a named capability checked against a role.
type Action string

const (
	ActionView     Action = "view"
	ActionUpload   Action = "upload"
	ActionApprove  Action = "approve"
	ActionRollback Action = "rollback"
	ActionExport   Action = "export"
	ActionDiff     Action = "diff"

	// ActionAdmin is the administrative override: it grants cross-user
	// visibility and cancellation of other users' jobs.
	ActionAdmin Action = "admin"
)

// User represents the authenticated principal resolved from a credential.
// Users are resolved per request and never persisted beyond request scope.
type User struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
