package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/rpattn/metacat/internal/domain"
)

// Operation distinguishes full-replace updates from partial patches. The
// description-retention rule only applies to PUT.
type Operation string

const (
	OperationPut   Operation = "PUT"
	OperationPatch Operation = "PATCH"
)

// Differ accumulates field-level changes between two snapshots of the same
// entity. It never fails for data-shape reasons; absent values are valid
// inputs and produce structured results, not errors.
type Differ struct {
	operation Operation
	added     []domain.FieldChange
	updated   []domain.FieldChange
	deleted   []domain.FieldChange
	major     bool
}

// NewDiffer creates a differ for the given operation kind.
func NewDiffer(operation Operation) *Differ {
	return &Differ{operation: operation}
}

// Operation returns the operation kind this differ was created for.
func (d *Differ) Operation() Operation { return d.operation }

// MarkMajor flags the accumulated diff as backward-incompatible. Used by
// hooks for value-dependent rules such as reduced column precision.
func (d *Differ) MarkMajor() { d.major = true }

// MajorMarked reports whether a hook flagged the diff as major.
func (d *Differ) MajorMarked() bool { return d.major }

// HasChanges reports whether any field change has been recorded.
func (d *Differ) HasChanges() bool {
	return len(d.added) > 0 || len(d.updated) > 0 || len(d.deleted) > 0
}

// Changes returns the accumulated diff with the given previous version.
func (d *Differ) Changes(previousVersion float64) domain.ChangeDescription {
	return domain.ChangeDescription{
		FieldsAdded:     d.added,
		FieldsUpdated:   d.updated,
		FieldsDeleted:   d.deleted,
		PreviousVersion: previousVersion,
	}
}

// RecordChange compares the serialized values and records a change when they
// differ. An absent old value yields an addition, an absent new value a
// deletion, anything else an update. Returns whether a change was recorded.
func (d *Differ) RecordChange(name string, oldValue, newValue any) (bool, error) {
	oldJSON, err := encodeValue(oldValue)
	if err != nil {
		return false, fmt.Errorf("failed to encode old value of %s: %w", name, err)
	}
	newJSON, err := encodeValue(newValue)
	if err != nil {
		return false, fmt.Errorf("failed to encode new value of %s: %w", name, err)
	}

	switch {
	case oldJSON == nil && newJSON == nil:
		return false, nil
	case oldJSON == nil:
		d.added = append(d.added, domain.FieldChange{Name: name, NewValue: newJSON})
	case newJSON == nil:
		d.deleted = append(d.deleted, domain.FieldChange{Name: name, OldValue: oldJSON})
	case bytes.Equal(oldJSON, newJSON):
		return false, nil
	default:
		d.updated = append(d.updated, domain.FieldChange{Name: name, OldValue: oldJSON, NewValue: newJSON})
	}
	return true, nil
}

// RecordDescription records a description change subject to the retention
// rule: a PUT must not overwrite a non-empty stored description with an empty
// one. In that case the stored description is written back into updated and
// no change is recorded.
func (d *Differ) RecordDescription(name string, oldDescription string, updated *string) (bool, error) {
	if d.operation == OperationPut && oldDescription != "" && *updated == "" {
		// Retain user-authored descriptions.
		*updated = oldDescription
		return false, nil
	}
	if oldDescription == *updated {
		return false, nil
	}
	return d.RecordChange(name, oldDescription, *updated)
}

// RecordListChange matches elements of the old and new lists with the given
// predicate. Unmatched old elements are recorded as a deletion, unmatched new
// elements as an addition, each as a single field change carrying the list of
// affected elements. Matched pairs are passed to onMatch so callers can diff
// them field by field; onMatch receives a pointer into newList and may write
// retained values back. Element order is not significant.
func RecordListChange[T any](
	d *Differ,
	name string,
	oldList, newList []T,
	match func(a, b T) bool,
	onMatch func(oldItem T, newItem *T) error,
) (added, deleted []T, err error) {
	if len(oldList) == 0 && len(newList) == 0 {
		return nil, nil, nil
	}

	matchedOld := make([]bool, len(oldList))
	for i := range newList {
		found := -1
		for j := range oldList {
			if !matchedOld[j] && match(oldList[j], newList[i]) {
				found = j
				break
			}
		}
		if found < 0 {
			added = append(added, newList[i])
			continue
		}
		matchedOld[found] = true
		if onMatch != nil {
			if err := onMatch(oldList[found], &newList[i]); err != nil {
				return nil, nil, err
			}
		}
	}
	for j := range oldList {
		if !matchedOld[j] {
			deleted = append(deleted, oldList[j])
		}
	}

	if len(added) > 0 {
		newJSON, err := json.Marshal(added)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode added %s: %w", name, err)
		}
		d.added = append(d.added, domain.FieldChange{Name: name, NewValue: newJSON})
	}
	if len(deleted) > 0 {
		oldJSON, err := json.Marshal(deleted)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode deleted %s: %w", name, err)
		}
		d.deleted = append(d.deleted, domain.FieldChange{Name: name, OldValue: oldJSON})
	}
	return added, deleted, nil
}

// encodeValue serializes a value for comparison. Untyped nils and nil
// pointers, slices and maps encode as absent (nil); empty strings and empty
// lists are values in their own right.
func encodeValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
