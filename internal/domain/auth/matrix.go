package auth

import (
	"encoding/json"
	"fmt"
)

// Matrix is the static role-to-action permission mapping. It is built once at
// startup and never mutated afterward, so lookups require no locking.
//
// A role with no entry has an empty permission set: lookups fail closed.
type Matrix struct {
	grants map[Role]map[Action]struct{}
}

// NewMatrix builds a Matrix from explicit role-action grants.
func NewMatrix(grants map[Role][]Action) *Matrix {
	m := &Matrix{grants: make(map[Role]map[Action]struct{}, len(grants))}
	for role, actions := range grants {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		m.grants[role] = set
	}
	return m
}

// DefaultMatrix returns the built-in county-office permission matrix.
// It can be replaced wholesale via configuration (see ParseMatrix).
func DefaultMatrix() *Matrix {
	return NewMatrix(map[Role][]Action{
		RoleAssessor: {ActionView, ActionUpload, ActionApprove, ActionExport, ActionDiff},
		RoleStaff:    {ActionView, ActionUpload},
		RoleITAdmin:  {ActionView, ActionUpload, ActionApprove, ActionRollback, ActionExport, ActionDiff, ActionAdmin},
		RoleAuditor:  {ActionView, ActionDiff},
	})
}

// ParseMatrix builds a Matrix from a JSON document of the form
// {"staff": ["view","upload"], ...}. Unknown roles are rejected so a typo in
// configuration cannot silently grant nothing to a real role.
func ParseMatrix(data []byte) (*Matrix, error) {
	var raw map[Role][]Action
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse permission matrix: %w", err)
	}
	for role := range raw {
		if !role.Valid() {
			return nil, fmt.Errorf("parse permission matrix: unknown role %q", role)
		}
	}
	return NewMatrix(raw), nil
}

// IsAllowed reports whether the role may perform the action.
// Missing role and missing action both yield false, never an error.
func (m *Matrix) IsAllowed(role Role, action Action) bool {
	set, ok := m.grants[role]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// HasOverride reports whether the role carries the administrative override.
func (m *Matrix) HasOverride(role Role) bool {
	return m.IsAllowed(role, ActionAdmin)
}
