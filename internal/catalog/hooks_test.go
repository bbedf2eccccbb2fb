package catalog

import (
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/domain"
)

func TestTopicDiff_PartitionShrinkIsMajor(t *testing.T) {
	orig := &domain.Topic{
		EntityHeader:   domain.EntityHeader{Name: "orders"},
		PartitionCount: 12,
	}
	upd := &domain.Topic{
		EntityHeader:   domain.EntityHeader{Name: "orders"},
		PartitionCount: 6,
	}

	d := NewDiffer(OperationPut)
	if err := topicSpecificDiff(d, orig, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.MajorMarked() {
		t.Fatalf("shrinking partitions must mark the diff major")
	}
}

func TestTopicDiff_PartitionGrowthIsMinor(t *testing.T) {
	orig := &domain.Topic{
		EntityHeader:   domain.EntityHeader{Name: "orders"},
		PartitionCount: 6,
	}
	upd := &domain.Topic{
		EntityHeader:   domain.EntityHeader{Name: "orders"},
		PartitionCount: 12,
	}

	d := NewDiffer(OperationPut)
	if err := topicSpecificDiff(d, orig, upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.MajorMarked() {
		t.Fatalf("growing partitions must stay minor")
	}
	if !d.HasChanges() {
		t.Fatalf("partition change must be recorded")
	}
}

func TestDiffColumns_TagRemovalStaysMinor(t *testing.T) {
	oldCols := []domain.Column{
		{Name: "email", DataType: "VARCHAR", Tags: []domain.TagLabel{{TagFQN: "PII.Sensitive"}}},
	}
	newCols := []domain.Column{
		{Name: "email", DataType: "VARCHAR"},
	}

	d := NewDiffer(OperationPatch)
	if err := diffColumns(d, "columns", oldCols, newCols); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.MajorMarked() {
		t.Fatalf("removing a tag from a kept column must stay minor")
	}
	cd := d.Changes(0.1)
	if len(cd.FieldsDeleted) != 1 || cd.FieldsDeleted[0].Name != "columns.email.tags" {
		t.Fatalf("unexpected deletions %+v", cd.FieldsDeleted)
	}
	if policy := defaultPolicies()[domain.EntityTypeTable]; policy.IsMajor(d, cd) {
		t.Fatalf("tag removal must not classify as a column deletion")
	}
}

func TestDiffColumns_TypeChangeCarriesMetadata(t *testing.T) {
	oldCols := []domain.Column{
		{
			Name:        "email",
			DataType:    "VARCHAR",
			Description: "contact email",
			Tags:        []domain.TagLabel{{TagFQN: "PII.Sensitive"}},
		},
	}
	newCols := []domain.Column{
		{Name: "email", DataType: "TEXT"},
	}

	d := NewDiffer(OperationPut)
	if err := diffColumns(d, "columns", oldCols, newCols); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newCols[0].Description != "contact email" {
		t.Fatalf("replacement column lost its description: %q", newCols[0].Description)
	}
	if len(newCols[0].Tags) != 1 || newCols[0].Tags[0].TagFQN != "PII.Sensitive" {
		t.Fatalf("replacement column lost its tags: %+v", newCols[0].Tags)
	}
	if !d.MajorMarked() {
		t.Fatalf("a type change replaces the column and must be major")
	}
}

func TestDiffColumns_TypeChangeKeepsExplicitMetadata(t *testing.T) {
	oldCols := []domain.Column{
		{Name: "email", DataType: "VARCHAR", Description: "contact email"},
	}
	newCols := []domain.Column{
		{Name: "email", DataType: "TEXT", Description: "primary contact"},
	}

	d := NewDiffer(OperationPut)
	if err := diffColumns(d, "columns", oldCols, newCols); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newCols[0].Description != "primary contact" {
		t.Fatalf("explicit description must win: %q", newCols[0].Description)
	}
}

func TestPrepareDashboard_RejectsNonChartReference(t *testing.T) {
	db := &domain.Dashboard{
		EntityHeader: domain.EntityHeader{Name: "sales"},
		Charts:       []domain.EntityReference{{ID: uuid.New(), Type: domain.EntityTypeTable}},
	}
	if err := prepareDashboard(db); err == nil {
		t.Fatalf("expected validation error for non-chart reference")
	}
}

func TestPrepareDashboard_DefaultsChartType(t *testing.T) {
	db := &domain.Dashboard{
		EntityHeader: domain.EntityHeader{Name: "sales"},
		Charts:       []domain.EntityReference{{ID: uuid.New(), Name: "revenue"}},
	}
	if err := prepareDashboard(db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.Charts[0].Type != domain.EntityTypeChart {
		t.Fatalf("unexpected chart type %q", db.Charts[0].Type)
	}
}

func TestPreparePipeline_RejectsUnknownDownstream(t *testing.T) {
	p := &domain.Pipeline{
		EntityHeader: domain.EntityHeader{Name: "ingest"},
		Tasks: []domain.Task{
			{Name: "extract", Downstream: []string{"load"}},
		},
	}
	if err := preparePipeline(p); err == nil {
		t.Fatalf("expected validation error for unknown downstream task")
	}
}

func TestPreparePipeline_RejectsDuplicateTasks(t *testing.T) {
	p := &domain.Pipeline{
		EntityHeader: domain.EntityHeader{Name: "ingest"},
		Tasks: []domain.Task{
			{Name: "extract"},
			{Name: "extract"},
		},
	}
	if err := preparePipeline(p); err == nil {
		t.Fatalf("expected validation error for duplicate task name")
	}
}

func TestPrepareMlModel_RejectsNonDashboardReference(t *testing.T) {
	m := &domain.MlModel{
		EntityHeader: domain.EntityHeader{Name: "churn"},
		Algorithm:    "xgboost",
		Dashboard:    &domain.EntityReference{ID: uuid.New(), Type: domain.EntityTypeTable},
	}
	if err := prepareMlModel(m); err == nil {
		t.Fatalf("expected validation error for non-dashboard reference")
	}
}

func TestPrepareTable_BuildsColumnFQNFromDatabase(t *testing.T) {
	table := &domain.Table{
		EntityHeader: domain.EntityHeader{Name: "users"},
		DatabaseFQN:  "mysql.shop",
		Columns:      []domain.Column{{Name: "id", DataType: "BIGINT"}},
	}
	if err := prepareTable(table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.FullyQualifiedName != "mysql.shop.users" {
		t.Fatalf("unexpected FQN %q", table.FullyQualifiedName)
	}
}
