package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

// strOrNil treats an empty string as an absent value for optional scalar
// fields, so that setting a previously unset field surfaces as an addition.
func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intOrNil(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

func int64OrNil(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

func sameRef(a, b *domain.EntityReference) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.Type == b.Type
}

func sortedStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func tagMatch(a, b domain.TagLabel) bool { return a.TagFQN == b.TagFQN }

func refMatch(a, b domain.EntityReference) bool { return a.ID == b.ID }

// diffTags records tag additions and deletions for the given field path.
func diffTags(d *Differ, name string, oldTags, newTags []domain.TagLabel) error {
	_, _, err := RecordListChange(d, name, oldTags, newTags, tagMatch, nil)
	return err
}

func validateName(e domain.Entity) error {
	if e.Header().Name == "" {
		return &domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

func validateOwner(e domain.Entity) error {
	owner := e.Header().Owner
	if owner == nil {
		return nil
	}
	if owner.ID == uuid.Nil || owner.Type == "" {
		return &domain.ValidationError{Field: "owner", Reason: "reference requires id and type"}
	}
	return nil
}

// ---- table ----

func tableHooks() Hooks {
	return Hooks{
		Prepare:      prepareTable,
		SpecificDiff: tableSpecificDiff,
	}
}

func prepareTable(e domain.Entity) error {
	t := e.(*domain.Table)
	if err := validateName(t); err != nil {
		return err
	}
	if err := validateOwner(t); err != nil {
		return err
	}
	if err := validateColumns(t.Columns); err != nil {
		return err
	}
	t.FullyQualifiedName = domain.FQNAdd(t.DatabaseFQN, t.Name)
	return nil
}

func validateColumns(columns []domain.Column) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return &domain.ValidationError{Field: "columns", Reason: "column name must not be empty"}
		}
		if c.DataType == "" {
			return &domain.ValidationError{Field: "columns", Reason: fmt.Sprintf("column %q requires a data type", c.Name)}
		}
		if seen[c.Name] {
			return &domain.ValidationError{Field: "columns", Reason: fmt.Sprintf("duplicate column name %q", c.Name)}
		}
		seen[c.Name] = true
		if err := validateColumns(c.Children); err != nil {
			return err
		}
	}
	return nil
}

func tableSpecificDiff(d *Differ, original, updated domain.Entity) error {
	orig := original.(*domain.Table)
	upd := updated.(*domain.Table)

	if _, err := d.RecordChange("tableType", strOrNil(orig.TableType), strOrNil(upd.TableType)); err != nil {
		return err
	}
	if err := diffTableConstraints(d, orig.TableConstraints, upd.TableConstraints); err != nil {
		return err
	}
	return diffColumns(d, "columns", orig.Columns, upd.Columns)
}

func diffTableConstraints(d *Differ, oldConstraints, newConstraints []domain.TableConstraint) error {
	match := func(a, b domain.TableConstraint) bool {
		if a.ConstraintType != b.ConstraintType || len(a.Columns) != len(b.Columns) {
			return false
		}
		as, bs := sortedStrings(a.Columns), sortedStrings(b.Columns)
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	_, _, err := RecordListChange(d, "tableConstraints", oldConstraints, newConstraints, match, nil)
	return err
}

// columnMatch pairs columns by name and data type. Ordinal position is
// deliberately excluded so a reorder surfaces as a scalar diff on the matched
// pair instead of an add+delete.
func columnMatch(a, b domain.Column) bool {
	return a.Name == b.Name && a.DataType == b.DataType
}

func diffColumns(d *Differ, fieldName string, oldColumns, newColumns []domain.Column) error {
	carryColumnMetadata(oldColumns, newColumns)
	_, deleted, err := RecordListChange(d, fieldName, oldColumns, newColumns, columnMatch,
		func(old domain.Column, upd *domain.Column) error {
			colField := fieldName + "." + old.Name

			if _, err := d.RecordDescription(colField+".description", old.Description, &upd.Description); err != nil {
				return err
			}
			if _, err := d.RecordChange(colField+".displayName", strOrNil(old.DisplayName), strOrNil(upd.DisplayName)); err != nil {
				return err
			}
			if _, err := d.RecordChange(colField+".constraint", strOrNil(old.Constraint), strOrNil(upd.Constraint)); err != nil {
				return err
			}
			if _, err := d.RecordChange(colField+".ordinalPosition", intOrNil(old.OrdinalPosition), intOrNil(upd.OrdinalPosition)); err != nil {
				return err
			}

			if err := recordShrinkableInt(d, colField+".dataLength", old.DataLength, upd.DataLength); err != nil {
				return err
			}
			if err := recordShrinkableInt(d, colField+".precision", old.Precision, upd.Precision); err != nil {
				return err
			}
			if err := recordShrinkableInt(d, colField+".scale", old.Scale, upd.Scale); err != nil {
				return err
			}

			if err := diffTags(d, colField+".tags", old.Tags, upd.Tags); err != nil {
				return err
			}
			return diffColumns(d, colField, old.Children, upd.Children)
		})
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		// Consumers may select any column that existed before.
		d.MarkMajor()
	}
	return nil
}

// carryColumnMetadata preserves user-authored metadata when a column is
// replaced by one of the same name with a different data type. The
// replacement surfaces as a delete plus an add; its description and tags
// survive unless the replacement sets its own.
func carryColumnMetadata(oldColumns, newColumns []domain.Column) {
	for i := range newColumns {
		old := domain.FindColumn(oldColumns, newColumns[i].Name)
		if old == nil || old.DataType == newColumns[i].DataType {
			continue
		}
		if newColumns[i].Description == "" {
			newColumns[i].Description = old.Description
		}
		if len(newColumns[i].Tags) == 0 && len(old.Tags) > 0 {
			newColumns[i].Tags = append([]domain.TagLabel(nil), old.Tags...)
		}
	}
}

// recordShrinkableInt diffs a size-like column attribute. Reducing an
// already-set value is a backward-incompatible change.
func recordShrinkableInt(d *Differ, name string, old, updated *int) error {
	changed, err := d.RecordChange(name, old, updated)
	if err != nil {
		return err
	}
	if changed && old != nil && updated != nil && *updated < *old {
		d.MarkMajor()
	}
	return nil
}

// ---- dashboard ----

func dashboardHooks() Hooks {
	return Hooks{
		Prepare:       prepareDashboard,
		SpecificDiff:  dashboardSpecificDiff,
		Relationships: dashboardRelationships,
	}
}

func prepareDashboard(e domain.Entity) error {
	db := e.(*domain.Dashboard)
	if err := validateName(db); err != nil {
		return err
	}
	if err := validateOwner(db); err != nil {
		return err
	}
	for i := range db.Charts {
		if db.Charts[i].ID == uuid.Nil {
			return &domain.ValidationError{Field: "charts", Reason: "reference requires id"}
		}
		if db.Charts[i].Type != "" && db.Charts[i].Type != domain.EntityTypeChart {
			return &domain.ValidationError{Field: "charts", Reason: "reference must point at a chart"}
		}
		db.Charts[i].Type = domain.EntityTypeChart
	}
	db.FullyQualifiedName = domain.FQNAdd(db.ServiceFQN, db.Name)
	return nil
}

func dashboardSpecificDiff(d *Differ, original, updated domain.Entity) error {
	orig := original.(*domain.Dashboard)
	upd := updated.(*domain.Dashboard)

	if _, err := d.RecordChange("dashboardUrl", strOrNil(orig.DashboardURL), strOrNil(upd.DashboardURL)); err != nil {
		return err
	}
	_, _, err := RecordListChange(d, "charts", orig.Charts, upd.Charts, refMatch, nil)
	return err
}

// dashboardRelationships mirrors the chart references as CONTAINS edges,
// replacing the previous set wholesale.
func dashboardRelationships(ctx context.Context, rels repository.RelationshipStore, e domain.Entity) error {
	db := e.(*domain.Dashboard)
	if err := rels.DeleteFrom(ctx, db.ID, domain.EntityTypeDashboard, domain.RelationContains, domain.EntityTypeChart); err != nil {
		return err
	}
	for _, chart := range db.Charts {
		if err := rels.Add(ctx, domain.Relationship{
			FromID:   db.ID,
			FromType: domain.EntityTypeDashboard,
			ToID:     chart.ID,
			ToType:   domain.EntityTypeChart,
			Relation: domain.RelationContains,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ---- topic ----

func topicHooks() Hooks {
	return Hooks{
		Prepare:      prepareTopic,
		SpecificDiff: topicSpecificDiff,
	}
}

func prepareTopic(e domain.Entity) error {
	t := e.(*domain.Topic)
	if err := validateName(t); err != nil {
		return err
	}
	if err := validateOwner(t); err != nil {
		return err
	}
	if t.PartitionCount < 0 {
		return &domain.ValidationError{Field: "partitionCount", Reason: "must not be negative"}
	}
	t.FullyQualifiedName = domain.FQNAdd(t.ServiceFQN, t.Name)
	return nil
}

func topicSpecificDiff(d *Differ, original, updated domain.Entity) error {
	orig := original.(*domain.Topic)
	upd := updated.(*domain.Topic)

	changed, err := d.RecordChange("partitionCount", intOrNil(orig.PartitionCount), intOrNil(upd.PartitionCount))
	if err != nil {
		return err
	}
	if changed && orig.PartitionCount > 0 && upd.PartitionCount < orig.PartitionCount {
		// Shrinking partitions loses ordering guarantees for existing consumers.
		d.MarkMajor()
	}
	if _, err := d.RecordChange("replicationFactor", intOrNil(orig.ReplicationFactor), intOrNil(upd.ReplicationFactor)); err != nil {
		return err
	}
	if _, err := d.RecordChange("retentionSize", int64OrNil(orig.RetentionSize), int64OrNil(upd.RetentionSize)); err != nil {
		return err
	}
	if _, err := d.RecordChange("schemaText", strOrNil(orig.SchemaText), strOrNil(upd.SchemaText)); err != nil {
		return err
	}
	_, err = d.RecordChange("cleanupPolicies", sortedStrings(orig.CleanupPolicies), sortedStrings(upd.CleanupPolicies))
	return err
}

// ---- pipeline ----

func pipelineHooks() Hooks {
	return Hooks{
		Prepare:      preparePipeline,
		SpecificDiff: pipelineSpecificDiff,
	}
}

func preparePipeline(e domain.Entity) error {
	p := e.(*domain.Pipeline)
	if err := validateName(p); err != nil {
		return err
	}
	if err := validateOwner(p); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Tasks))
	for _, task := range p.Tasks {
		if task.Name == "" {
			return &domain.ValidationError{Field: "tasks", Reason: "task name must not be empty"}
		}
		if seen[task.Name] {
			return &domain.ValidationError{Field: "tasks", Reason: fmt.Sprintf("duplicate task name %q", task.Name)}
		}
		seen[task.Name] = true
	}
	for _, task := range p.Tasks {
		for _, downstream := range task.Downstream {
			if !seen[downstream] {
				return &domain.ValidationError{
					Field:  "tasks",
					Reason: fmt.Sprintf("task %q references unknown downstream task %q", task.Name, downstream),
				}
			}
		}
	}
	p.FullyQualifiedName = domain.FQNAdd(p.ServiceFQN, p.Name)
	return nil
}

func pipelineSpecificDiff(d *Differ, original, updated domain.Entity) error {
	orig := original.(*domain.Pipeline)
	upd := updated.(*domain.Pipeline)

	if _, err := d.RecordChange("pipelineUrl", strOrNil(orig.PipelineURL), strOrNil(upd.PipelineURL)); err != nil {
		return err
	}
	if _, err := d.RecordChange("concurrency", intOrNil(orig.Concurrency), intOrNil(upd.Concurrency)); err != nil {
		return err
	}

	taskMatch := func(a, b domain.Task) bool { return a.Name == b.Name }
	_, deleted, err := RecordListChange(d, "tasks", orig.Tasks, upd.Tasks, taskMatch,
		func(old domain.Task, updTask *domain.Task) error {
			taskField := "tasks." + old.Name
			if _, err := d.RecordDescription(taskField+".description", old.Description, &updTask.Description); err != nil {
				return err
			}
			if _, err := d.RecordChange(taskField+".displayName", strOrNil(old.DisplayName), strOrNil(updTask.DisplayName)); err != nil {
				return err
			}
			if _, err := d.RecordChange(taskField+".taskUrl", strOrNil(old.TaskURL), strOrNil(updTask.TaskURL)); err != nil {
				return err
			}
			_, err := d.RecordChange(taskField+".downstreamTasks", sortedStrings(old.Downstream), sortedStrings(updTask.Downstream))
			return err
		})
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		d.MarkMajor()
	}
	return nil
}

// ---- mlmodel ----

func mlModelHooks() Hooks {
	return Hooks{
		Prepare:       prepareMlModel,
		SpecificDiff:  mlModelSpecificDiff,
		Relationships: mlModelRelationships,
	}
}

func prepareMlModel(e domain.Entity) error {
	m := e.(*domain.MlModel)
	if err := validateName(m); err != nil {
		return err
	}
	if err := validateOwner(m); err != nil {
		return err
	}
	if m.Algorithm == "" {
		return &domain.ValidationError{Field: "algorithm", Reason: "must not be empty"}
	}
	if m.Dashboard != nil && m.Dashboard.Type != domain.EntityTypeDashboard {
		return &domain.ValidationError{Field: "dashboard", Reason: "reference must point at a dashboard"}
	}
	m.FullyQualifiedName = domain.BuildFQN(m.Name)
	return nil
}

func mlModelSpecificDiff(d *Differ, original, updated domain.Entity) error {
	orig := original.(*domain.MlModel)
	upd := updated.(*domain.MlModel)

	if _, err := d.RecordChange("algorithm", strOrNil(orig.Algorithm), strOrNil(upd.Algorithm)); err != nil {
		return err
	}
	if _, err := d.RecordChange("target", strOrNil(orig.Target), strOrNil(upd.Target)); err != nil {
		return err
	}
	if _, err := d.RecordChange("server", strOrNil(orig.Server), strOrNil(upd.Server)); err != nil {
		return err
	}
	if !sameRef(orig.Dashboard, upd.Dashboard) {
		if _, err := d.RecordChange("dashboard", orig.Dashboard, upd.Dashboard); err != nil {
			return err
		}
	}

	featureMatch := func(a, b domain.MlFeature) bool { return a.Name == b.Name }
	if _, _, err := RecordListChange(d, "mlFeatures", orig.MlFeatures, upd.MlFeatures, featureMatch,
		func(old domain.MlFeature, updFeature *domain.MlFeature) error {
			featureField := "mlFeatures." + old.Name
			if _, err := d.RecordDescription(featureField+".description", old.Description, &updFeature.Description); err != nil {
				return err
			}
			_, err := d.RecordChange(featureField+".dataType", strOrNil(old.DataType), strOrNil(updFeature.DataType))
			return err
		}); err != nil {
		return err
	}

	paramMatch := func(a, b domain.MlHyperParameter) bool { return a.Name == b.Name }
	_, _, err := RecordListChange(d, "mlHyperParameters", orig.MlHyperParameters, upd.MlHyperParameters, paramMatch,
		func(old domain.MlHyperParameter, updParam *domain.MlHyperParameter) error {
			paramField := "mlHyperParameters." + old.Name
			_, err := d.RecordChange(paramField+".value", strOrNil(old.Value), strOrNil(updParam.Value))
			return err
		})
	return err
}

// mlModelRelationships mirrors the dashboard pointer as a USES edge. A model
// has at most one dashboard, so the previous edge is replaced wholesale.
func mlModelRelationships(ctx context.Context, rels repository.RelationshipStore, e domain.Entity) error {
	m := e.(*domain.MlModel)
	if err := rels.DeleteFrom(ctx, m.ID, domain.EntityTypeMlModel, domain.RelationUses, domain.EntityTypeDashboard); err != nil {
		return err
	}
	if m.Dashboard == nil {
		return nil
	}
	return rels.Add(ctx, domain.Relationship{
		FromID:   m.ID,
		FromType: domain.EntityTypeMlModel,
		ToID:     m.Dashboard.ID,
		ToType:   domain.EntityTypeDashboard,
		Relation: domain.RelationUses,
	})
}
