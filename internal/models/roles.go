package models

import (
	"fmt"
	"strings"
)

// Role identifiers as stored in users.role_id
const (
	RoleAdmin   = 1
	RoleTeacher = 2
	RoleStudent = 3
	RoleParent  = 4
)

// Capability constants define all valid capabilities in the system
const (
	CapabilityGradesRead      = "grades.read"
	CapabilityGradesWrite     = "grades.write"
	CapabilityEnrollmentRead  = "enrollment.read"
	CapabilityEnrollmentWrite = "enrollment.write"
	CapabilityUsersManage     = "users.manage"
	CapabilityAuditRead       = "audit.read"
)

// DefaultDestination is where a role without a policy entry lands after login
const DefaultDestination = "/dashboard"

// RolePolicy is one row of the role policy table
type RolePolicy struct {
	Name         string
	Destination  string
	Capabilities map[string]bool
}

// PolicyTable maps role ids to their policy
type PolicyTable map[int]RolePolicy

// AllValidCapabilities is the whitelist of all allowed capabilities
var AllValidCapabilities = map[string]bool{
	CapabilityGradesRead:      true,
	CapabilityGradesWrite:     true,
	CapabilityEnrollmentRead:  true,
	CapabilityEnrollmentWrite: true,
	CapabilityUsersManage:     true,
	CapabilityAuditRead:       true,
}

// DefaultRolePolicies is the portal's role table
var DefaultRolePolicies = PolicyTable{
	RoleAdmin: {
		Name:        "admin",
		Destination: "/admin/dashboard",
		Capabilities: capabilitySet(
			CapabilityGradesRead, CapabilityGradesWrite,
			CapabilityEnrollmentRead, CapabilityEnrollmentWrite,
			CapabilityUsersManage, CapabilityAuditRead,
		),
	},
	RoleTeacher: {
		Name:         "teacher",
		Destination:  "/teacher/dashboard",
		Capabilities: capabilitySet(CapabilityGradesRead, CapabilityGradesWrite, CapabilityEnrollmentRead),
	},
	RoleStudent: {
		Name:         "student",
		Destination:  "/student/dashboard",
		Capabilities: capabilitySet(CapabilityGradesRead, CapabilityEnrollmentRead),
	},
	RoleParent: {
		Name:         "parent",
		Destination:  "/parent/dashboard",
		Capabilities: capabilitySet(CapabilityGradesRead),
	},
}

func capabilitySet(caps ...string) map[string]bool {
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Validate checks the table at startup: every role needs a name, an absolute
// destination and only known capabilities.
func (t PolicyTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("role policy table is empty")
	}
	for id, policy := range t {
		if id <= 0 {
			return fmt.Errorf("role id %d must be positive", id)
		}
		if policy.Name == "" {
			return fmt.Errorf("role %d has no name", id)
		}
		if !strings.HasPrefix(policy.Destination, "/") || strings.HasPrefix(policy.Destination, "//") {
			return fmt.Errorf("role %q destination %q must be a local absolute path", policy.Name, policy.Destination)
		}
		for capability := range policy.Capabilities {
			if !AllValidCapabilities[capability] {
				return fmt.Errorf("role %q has unknown capability %q", policy.Name, capability)
			}
		}
	}
	return nil
}

// Destination resolves the post-login landing path for a role.
// Unknown roles fall back to DefaultDestination.
func (t PolicyTable) Destination(roleID int) string {
	if policy, ok := t[roleID]; ok {
		return policy.Destination
	}
	return DefaultDestination
}

// HasCapability checks whether a role grants a capability
func (t PolicyTable) HasCapability(roleID int, capability string) bool {
	policy, ok := t[roleID]
	if !ok {
		return false
	}
	return policy.Capabilities[capability]
}

// RoleName returns the role's display name, or "unknown"
func (t PolicyTable) RoleName(roleID int) string {
	if policy, ok := t[roleID]; ok {
		return policy.Name
	}
	return "unknown"
}
