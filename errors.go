package entguard

import "fmt"

// PermissionError is the hard-denial signal raised by AssertCanPerform and
// scope-membership checks on mutation paths. Read paths never raise it; they
// receive a Decision or a filtered collection instead, so record existence
// cannot leak through error responses.
type PermissionError struct {
	OrganizationID string
	ActorID        string
	ActorType      ActorType
	Action         string
	Resource       string
	Reason         string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s (actor=%s action=%s resource=%s)",
		e.Reason, e.ActorID, e.Action, e.Resource)
}

// ConfigError indicates a setup defect, e.g. a tool configured with
// identity mode "configured" but no role id. It must never be downgraded
// to a permission denial.
type ConfigError struct {
	Subject string
	Detail  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Detail)
}
