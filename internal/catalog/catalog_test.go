package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/metacat/internal/domain"
	"github.com/rpattn/metacat/internal/repository"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (s *captureSink) Emit(ctx context.Context, event domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) all() []domain.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChangeEvent(nil), s.events...)
}

func newTestCatalog(t *testing.T) (*Catalog, *repository.MemoryStore, *captureSink) {
	t.Helper()
	store := repository.NewMemoryStore()
	sink := &captureSink{}
	cat := New(store, NewRegistry(), sink, WithTxRetry(3, time.Millisecond))
	return cat, store, sink
}

func intPtr(v int) *int { return &v }

func newUsersTable() *domain.Table {
	return &domain.Table{
		EntityHeader: domain.EntityHeader{
			Name:        "users",
			Description: "user accounts",
		},
		DatabaseFQN: "mysql.shop",
		Columns: []domain.Column{
			{Name: "id", DataType: "BIGINT", OrdinalPosition: 1},
			{Name: "email", DataType: "VARCHAR", DataLength: intPtr(100), OrdinalPosition: 2},
		},
	}
}

func TestCreate_InitialVersion(t *testing.T) {
	cat, store, sink := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)

	h := created.Header()
	require.Equal(t, 0.1, h.Version)
	require.Equal(t, "mysql.shop.users", h.FullyQualifiedName)
	require.Equal(t, "alice", h.UpdatedBy)
	require.NotEqual(t, uuid.Nil, h.ID)
	require.Nil(t, h.ChangeDescription)

	versions, err := store.Versions().List(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, 0.1, versions[0].Version)

	events := sink.all()
	require.Len(t, events, 1)
	require.Equal(t, domain.EventEntityCreated, events[0].EventType)
	require.Equal(t, 0.1, events[0].CurrentVersion)
}

func TestCreate_DuplicateFQNConflicts(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)

	_, err = cat.Create(ctx, newUsersTable(), "bob")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreate_ValidationFailureLeavesNoState(t *testing.T) {
	cat, store, sink := newTestCatalog(t)
	ctx := context.Background()

	bad := newUsersTable()
	bad.Columns = append(bad.Columns, domain.Column{Name: "id", DataType: "BIGINT"})
	_, err := cat.Create(ctx, bad, "alice")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	records, err := store.Entities().List(ctx, domain.EntityTypeTable, true)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, sink.all())
}

func TestUpdate_NoOpKeepsVersion(t *testing.T) {
	cat, store, sink := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	updated, err := cat.Update(ctx, id, created.Clone(), OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 0.1, updated.Header().Version)
	require.Equal(t, "alice", updated.Header().UpdatedBy)

	versions, err := store.Versions().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Len(t, sink.all(), 1) // only the create event
}

func TestUpdate_TableLifecycle(t *testing.T) {
	cat, _, sink := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	// Adding a column is a minor change.
	withExtra := created.Clone().(*domain.Table)
	withExtra.Columns = append(withExtra.Columns, domain.Column{Name: "created_at", DataType: "TIMESTAMP", OrdinalPosition: 3})
	v2, err := cat.Update(ctx, id, withExtra, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 0.2, v2.Header().Version)
	cd := v2.Header().ChangeDescription
	require.NotNil(t, cd)
	require.Equal(t, 0.1, cd.PreviousVersion)
	require.Len(t, cd.FieldsAdded, 1)
	require.Equal(t, "columns", cd.FieldsAdded[0].Name)

	// Shrinking a column's data length is backward-incompatible.
	shrunk := v2.Clone().(*domain.Table)
	domain.FindColumn(shrunk.Columns, "email").DataLength = intPtr(50)
	v3, err := cat.Update(ctx, id, shrunk, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 1.0, v3.Header().Version)
	cd = v3.Header().ChangeDescription
	require.Len(t, cd.FieldsUpdated, 1)
	require.Equal(t, "columns.email.dataLength", cd.FieldsUpdated[0].Name)

	// Deleting a column is backward-incompatible.
	dropped := v3.Clone().(*domain.Table)
	dropped.Columns = dropped.Columns[:2]
	v4, err := cat.Update(ctx, id, dropped, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 2.0, v4.Header().Version)
	cd = v4.Header().ChangeDescription
	require.Len(t, cd.FieldsDeleted, 1)
	require.Equal(t, "columns", cd.FieldsDeleted[0].Name)

	// Every recorded version is retrievable and the history is newest first.
	history, err := cat.ListVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 4)
	want := []float64{2.0, 1.0, 0.2, 0.1}
	for i, e := range history {
		require.Equal(t, want[i], e.Header().Version)
	}

	old, err := cat.GetVersion(ctx, id, 0.1)
	require.NoError(t, err)
	require.Len(t, old.(*domain.Table).Columns, 2)

	events := sink.all()
	require.Len(t, events, 4)
	for _, event := range events[1:] {
		require.Equal(t, domain.EventEntityUpdated, event.EventType)
	}
}

func TestUpdate_ColumnTagRemovalIsMinor(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	table := newUsersTable()
	domain.FindColumn(table.Columns, "email").Tags = []domain.TagLabel{{TagFQN: "PII.Sensitive"}}
	created, err := cat.Create(ctx, table, "alice")
	require.NoError(t, err)
	id := created.Header().ID

	untagged := created.Clone().(*domain.Table)
	domain.FindColumn(untagged.Columns, "email").Tags = nil
	updated, err := cat.Update(ctx, id, untagged, OperationPatch, "bob")
	require.NoError(t, err)
	require.Equal(t, 0.2, updated.Header().Version)

	cd := updated.Header().ChangeDescription
	require.NotNil(t, cd)
	require.Len(t, cd.FieldsDeleted, 1)
	require.Equal(t, "columns.email.tags", cd.FieldsDeleted[0].Name)
}

func TestUpdate_ColumnTypeChangePreservesMetadata(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	table := newUsersTable()
	col := domain.FindColumn(table.Columns, "email")
	col.Description = "contact email"
	col.Tags = []domain.TagLabel{{TagFQN: "PII.Sensitive"}}
	created, err := cat.Create(ctx, table, "alice")
	require.NoError(t, err)
	id := created.Header().ID

	retyped := created.Clone().(*domain.Table)
	*domain.FindColumn(retyped.Columns, "email") = domain.Column{
		Name: "email", DataType: "TEXT", OrdinalPosition: 2,
	}
	updated, err := cat.Update(ctx, id, retyped, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 1.0, updated.Header().Version)

	kept := domain.FindColumn(updated.(*domain.Table).Columns, "email")
	require.Equal(t, "TEXT", kept.DataType)
	require.Equal(t, "contact email", kept.Description)
	require.Len(t, kept.Tags, 1)
	require.Equal(t, "PII.Sensitive", kept.Tags[0].TagFQN)

	cd := updated.Header().ChangeDescription
	require.Len(t, cd.FieldsAdded, 1)
	require.Len(t, cd.FieldsDeleted, 1)
	require.Equal(t, "columns", cd.FieldsAdded[0].Name)
	require.Equal(t, "columns", cd.FieldsDeleted[0].Name)
}

func TestUpdate_RediffReproducesChangeDescription(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	shrunk := created.Clone().(*domain.Table)
	domain.FindColumn(shrunk.Columns, "email").DataLength = intPtr(50)
	shrunk.Description = "account table"
	v2, err := cat.Update(ctx, id, shrunk, OperationPut, "bob")
	require.NoError(t, err)
	stored := v2.Header().ChangeDescription
	require.NotNil(t, stored)

	// Re-diffing the two recorded snapshots must reproduce the stored
	// change description.
	prev, err := cat.GetVersion(ctx, id, 0.1)
	require.NoError(t, err)
	curr, err := cat.GetVersion(ctx, id, v2.Header().Version)
	require.NoError(t, err)

	d := NewDiffer(OperationPut)
	currCopy := curr.Clone()
	_, err = d.RecordChange("displayName", strOrNil(prev.Header().DisplayName), strOrNil(currCopy.Header().DisplayName))
	require.NoError(t, err)
	_, err = d.RecordDescription("description", prev.Header().Description, &currCopy.Header().Description)
	require.NoError(t, err)
	require.NoError(t, diffTags(d, "tags", prev.Header().Tags, currCopy.Header().Tags))
	require.NoError(t, tableSpecificDiff(d, prev, currCopy))

	rediff := d.Changes(prev.Header().Version)
	require.True(t, stored.Equal(rediff), "stored %+v rediff %+v", *stored, rediff)
}

func TestUpdate_PutRetainsDescription(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	cleared := created.Clone().(*domain.Table)
	cleared.Description = ""
	updated, err := cat.Update(ctx, id, cleared, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 0.1, updated.Header().Version)
	require.Equal(t, "user accounts", updated.Header().Description)
}

func TestUpdate_UnknownEntity(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	_, err := cat.Update(context.Background(), uuid.New(), newUsersTable(), OperationPut, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdate_TypeMismatch(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)

	model := &domain.MlModel{
		EntityHeader: domain.EntityHeader{Name: "churn"},
		Algorithm:    "xgboost",
	}
	_, err = cat.Update(ctx, created.Header().ID, model, OperationPut, "bob")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUpdate_RetriesTransientFailures(t *testing.T) {
	cat, store, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	store.FailNextPut(&domain.TransientStorageError{Op: "put entity", Err: errors.New("connection reset")})

	renamed := created.Clone().(*domain.Table)
	renamed.DisplayName = "Users"
	updated, err := cat.Update(ctx, id, renamed, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 0.2, updated.Header().Version)
}

func TestUpdate_PermanentFailureRollsBack(t *testing.T) {
	cat, store, sink := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	store.FailNextPut(errors.New("constraint violation"))

	renamed := created.Clone().(*domain.Table)
	renamed.DisplayName = "Users"
	_, err = cat.Update(ctx, id, renamed, OperationPut, "bob")
	require.Error(t, err)

	// Nothing committed, nothing emitted.
	current, err := cat.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.1, current.Header().Version)
	require.Empty(t, current.Header().DisplayName)
	require.Len(t, sink.all(), 1)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	cat, _, sink := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	require.NoError(t, cat.Delete(ctx, id, false, "bob"))

	current, err := cat.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, current.Header().Deleted)
	require.Equal(t, 0.2, current.Header().Version)
	cd := current.Header().ChangeDescription
	require.NotNil(t, cd)
	require.Len(t, cd.FieldsUpdated, 1)
	require.Equal(t, "deleted", cd.FieldsUpdated[0].Name)

	// Soft deleting again is a no-op.
	require.NoError(t, cat.Delete(ctx, id, false, "bob"))
	current, err = cat.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 0.2, current.Header().Version)

	// Updates are rejected until the entity is restored.
	_, err = cat.Update(ctx, id, current.Clone(), OperationPut, "bob")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	restored, err := cat.Restore(ctx, id, "carol")
	require.NoError(t, err)
	require.False(t, restored.Header().Deleted)
	require.Equal(t, 0.3, restored.Header().Version)

	events := sink.all()
	require.Len(t, events, 3)
	require.Equal(t, domain.EventEntitySoftDeleted, events[1].EventType)
	require.Equal(t, domain.EventEntityRestored, events[2].EventType)
}

func TestHardDelete_PurgesEverything(t *testing.T) {
	cat, store, sink := newTestCatalog(t)
	ctx := context.Background()

	owner := &domain.EntityReference{ID: uuid.New(), Type: "user", Name: "alice"}
	table := newUsersTable()
	table.Owner = owner
	created, err := cat.Create(ctx, table, "alice")
	require.NoError(t, err)
	id := created.Header().ID

	require.NoError(t, cat.Delete(ctx, id, true, "admin"))

	_, err = cat.Get(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = cat.ListVersions(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	edges, err := store.Relationships().FindTo(ctx, owner.ID, "user", domain.RelationOwns)
	require.NoError(t, err)
	require.Empty(t, edges)

	events := sink.all()
	require.Equal(t, domain.EventEntityHardDeleted, events[len(events)-1].EventType)
}

func TestOwnerEdgeMaintained(t *testing.T) {
	cat, store, _ := newTestCatalog(t)
	ctx := context.Background()

	owner := &domain.EntityReference{ID: uuid.New(), Type: "user", Name: "alice"}
	table := newUsersTable()
	table.Owner = owner
	created, err := cat.Create(ctx, table, "alice")
	require.NoError(t, err)
	id := created.Header().ID

	edges, err := store.Relationships().FindTo(ctx, owner.ID, "user", domain.RelationOwns)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, id, edges[0].ToID)

	// Reassigning the owner replaces the edge.
	newOwner := &domain.EntityReference{ID: uuid.New(), Type: "user", Name: "bob"}
	reassigned := created.Clone().(*domain.Table)
	reassigned.Owner = newOwner
	_, err = cat.Update(ctx, id, reassigned, OperationPut, "admin")
	require.NoError(t, err)

	edges, err = store.Relationships().FindTo(ctx, owner.ID, "user", domain.RelationOwns)
	require.NoError(t, err)
	require.Empty(t, edges)
	edges, err = store.Relationships().FindTo(ctx, newOwner.ID, "user", domain.RelationOwns)
	require.NoError(t, err)
	require.Len(t, edges, 1)
}

func TestMlModelDashboardEdge(t *testing.T) {
	cat, store, _ := newTestCatalog(t)
	ctx := context.Background()

	dash, err := cat.Create(ctx, &domain.Dashboard{
		EntityHeader: domain.EntityHeader{Name: "churn-metrics"},
		ServiceFQN:   "superset",
	}, "alice")
	require.NoError(t, err)
	dashRef := domain.Ref(dash)

	model, err := cat.Create(ctx, &domain.MlModel{
		EntityHeader: domain.EntityHeader{Name: "churn"},
		Algorithm:    "xgboost",
		Dashboard:    &dashRef,
	}, "alice")
	require.NoError(t, err)
	modelID := model.Header().ID

	edges, err := store.Relationships().FindTo(ctx, modelID, domain.EntityTypeMlModel, domain.RelationUses)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, dashRef.ID, edges[0].ToID)

	// Dropping the dashboard pointer removes the edge and records a deletion.
	detached := model.Clone().(*domain.MlModel)
	detached.Dashboard = nil
	updated, err := cat.Update(ctx, modelID, detached, OperationPut, "bob")
	require.NoError(t, err)
	cd := updated.Header().ChangeDescription
	require.Len(t, cd.FieldsDeleted, 1)
	require.Equal(t, "dashboard", cd.FieldsDeleted[0].Name)

	edges, err = store.Relationships().FindTo(ctx, modelID, domain.EntityTypeMlModel, domain.RelationUses)
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestDashboardChartEdgesMaintained(t *testing.T) {
	cat, store, _ := newTestCatalog(t)
	ctx := context.Background()

	revenue := domain.EntityReference{ID: uuid.New(), Type: domain.EntityTypeChart, Name: "revenue"}
	churn := domain.EntityReference{ID: uuid.New(), Type: domain.EntityTypeChart, Name: "churn"}
	dash, err := cat.Create(ctx, &domain.Dashboard{
		EntityHeader: domain.EntityHeader{Name: "sales"},
		ServiceFQN:   "superset",
		Charts:       []domain.EntityReference{revenue, churn},
	}, "alice")
	require.NoError(t, err)
	dashID := dash.Header().ID

	edges, err := store.Relationships().FindTo(ctx, dashID, domain.EntityTypeDashboard, domain.RelationContains)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	// Dropping a chart removes its containment edge.
	trimmed := dash.Clone().(*domain.Dashboard)
	trimmed.Charts = []domain.EntityReference{revenue}
	_, err = cat.Update(ctx, dashID, trimmed, OperationPut, "bob")
	require.NoError(t, err)

	edges, err = store.Relationships().FindTo(ctx, dashID, domain.EntityTypeDashboard, domain.RelationContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, revenue.ID, edges[0].ToID)
}

func TestMlModelAlgorithmChangeIsMajor(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	model, err := cat.Create(ctx, &domain.MlModel{
		EntityHeader: domain.EntityHeader{Name: "churn"},
		Algorithm:    "forest",
	}, "alice")
	require.NoError(t, err)

	swapped := model.Clone().(*domain.MlModel)
	swapped.Algorithm = "xgboost"
	updated, err := cat.Update(ctx, model.Header().ID, swapped, OperationPut, "bob")
	require.NoError(t, err)
	require.Equal(t, 1.0, updated.Header().Version)
}

func TestList_ExcludesSoftDeletedByDefault(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	first, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	second := newUsersTable()
	second.Name = "orders"
	_, err = cat.Create(ctx, second, "alice")
	require.NoError(t, err)

	require.NoError(t, cat.Delete(ctx, first.Header().ID, false, "alice"))

	live, err := cat.List(ctx, domain.EntityTypeTable, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "orders", live[0].Header().Name)

	all, err := cat.List(ctx, domain.EntityTypeTable, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	cat, _, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := cat.Create(ctx, newUsersTable(), "alice")
	require.NoError(t, err)
	id := created.Header().ID

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			current, err := cat.Get(ctx, id)
			if err != nil {
				t.Error(err)
				return
			}
			patch := current.Clone().(*domain.Table)
			patch.Columns = append(patch.Columns, domain.Column{
				Name:     "extra_" + uuid.NewString()[:8],
				DataType: "INT",
			})
			if _, err := cat.Update(ctx, id, patch, OperationPatch, "bob"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// Versions advanced monotonically regardless of interleaving.
	history, err := cat.ListVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, workers+1)
	for i := 1; i < len(history); i++ {
		require.Greater(t, history[i-1].Header().Version, history[i].Header().Version)
	}
}
