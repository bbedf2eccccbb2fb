package catalog

import (
	"github.com/rpattn/metacat/internal/domain"
)

// Severity classifies a field change's backward-compatibility impact.
type Severity string

const (
	SeverityMinor Severity = "MINOR"
	SeverityMajor Severity = "MAJOR"
)

// Policy is the static classification table for one entity type. Additions
// default to MINOR; updates and deletions default to MINOR unless listed.
// Rules match recorded field names exactly. Nested list removals (a column
// losing a child column) and value-dependent rules (a reduced column length)
// are flagged by the type's diff hook via Differ.MarkMajor and combined here,
// so clearing a scalar on a matched element, such as a column's tags, stays
// minor even though its path starts with the list field.
type Policy struct {
	OnUpdate map[string]Severity
	OnDelete map[string]Severity
}

// IsMajor reports whether the diff requires a major version bump under this
// policy, taking the differ's value-dependent marking into account.
func (p Policy) IsMajor(d *Differ, cd domain.ChangeDescription) bool {
	if d.MajorMarked() {
		return true
	}
	for _, fc := range cd.FieldsUpdated {
		if p.OnUpdate[fc.Name] == SeverityMajor {
			return true
		}
	}
	for _, fc := range cd.FieldsDeleted {
		if p.OnDelete[fc.Name] == SeverityMajor {
			return true
		}
	}
	return false
}

// defaultPolicies returns the per-type classification tables. Deleting a
// column or a pipeline task breaks consumers of the entity; changing a
// model's algorithm, server or target invalidates everything downstream of
// it.
func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		domain.EntityTypeTable: {
			OnDelete: map[string]Severity{"columns": SeverityMajor},
		},
		domain.EntityTypeDashboard: {},
		domain.EntityTypeTopic:     {},
		domain.EntityTypePipeline: {
			OnDelete: map[string]Severity{"tasks": SeverityMajor},
		},
		domain.EntityTypeMlModel: {
			OnUpdate: map[string]Severity{
				"algorithm": SeverityMajor,
				"server":    SeverityMajor,
				"target":    SeverityMajor,
			},
		},
	}
}
