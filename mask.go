package entguard

import (
	"context"
)

// FieldMaskResult is the computed column-level restriction for one
// (actor, resource) pair. IsWildcard means no masking at all.
//
// RedactedFields are parsed from storage but not applied here: partial
// obfuscation stays a presentation concern of the caller.
type FieldMaskResult struct {
	IsWildcard     bool                  `json:"is_wildcard"`
	HiddenFields   map[string]bool       `json:"hidden_fields,omitempty"`
	RedactedFields map[string]*FieldMask `json:"redacted_fields,omitempty"`
	AllowedFields  map[string]bool       `json:"allowed_fields,omitempty"`
}

// Metadata keys that survive allow-list masking unconditionally.
var maskPreservedFields = []string{"_id", "id", "createdAt", "created_at"}

// GetFieldMask computes the fields that must be hidden from any record of
// resource before it leaves the engine. Admins, system actors and actors
// without roles see everything.
func (e *Engine) GetFieldMask(ctx context.Context, actor *ActorContext, resource string) (*FieldMaskResult, error) {
	if actor.IsOrgAdmin || actor.ActorType == ActorSystem || len(actor.RoleIDs) == 0 {
		return &FieldMaskResult{IsWildcard: true}, nil
	}

	policies, err := e.applicablePolicies(ctx, actor, anyAction, resource)
	if err != nil {
		return nil, err
	}

	result := &FieldMaskResult{
		HiddenFields:   make(map[string]bool),
		RedactedFields: make(map[string]*FieldMask),
	}
	for _, p := range policies {
		if p.Effect != EffectAllow {
			continue
		}
		masks, err := e.policyStore.ListFieldMasks(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range masks {
			switch m.MaskType {
			case MaskHide:
				result.HiddenFields[m.FieldPath] = true
			case MaskRedact:
				result.RedactedFields[m.FieldPath] = m
			}
		}
	}

	// Roles and policies may exist without any hide mask; that is still
	// unrestricted visibility.
	if len(result.HiddenFields) == 0 {
		return &FieldMaskResult{IsWildcard: true, RedactedFields: result.RedactedFields}, nil
	}
	return result, nil
}

// ApplyFieldMask returns a copy of record with masked fields removed. The
// hide test runs against top-level keys and against data.<field> paths of a
// nested data object. Wildcard masks return the record unchanged.
func ApplyFieldMask(record Record, mask *FieldMaskResult) Record {
	if record == nil {
		return nil
	}
	if mask == nil || mask.IsWildcard {
		return record
	}

	if len(mask.HiddenFields) > 0 {
		out := make(Record, len(record))
		for k, v := range record {
			if k == "data" {
				continue
			}
			if mask.hides(k) {
				continue
			}
			out[k] = v
		}
		if data, ok := record["data"].(map[string]any); ok {
			filtered := make(map[string]any, len(data))
			for f, v := range data {
				if mask.hides(f) || mask.hides("data."+f) {
					continue
				}
				filtered[f] = v
			}
			out["data"] = filtered
		}
		return out
	}

	// Allow-list mode: no hide masks accumulated and not a wildcard, so only
	// explicitly allowed fields (including dotted data paths) pass through.
	// Identity and creation metadata always survive.
	out := make(Record)
	for _, k := range maskPreservedFields {
		if v, ok := record[k]; ok {
			out[k] = v
		}
	}
	for k, v := range record {
		if k == "data" {
			continue
		}
		if mask.AllowedFields[k] {
			out[k] = v
		}
	}
	if data, ok := record["data"].(map[string]any); ok {
		filtered := make(map[string]any)
		for f, v := range data {
			if mask.AllowedFields[f] || mask.AllowedFields["data."+f] {
				filtered[f] = v
			}
		}
		out["data"] = filtered
	}
	return out
}

// hides checks the exact key and its quoted "<key>" form, which older
// stored masks used for fields containing dots.
func (m *FieldMaskResult) hides(key string) bool {
	if m.HiddenFields[key] {
		return true
	}
	return m.HiddenFields[`"`+key+`"`]
}
