package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/ledger"
	"github.com/ledgerapply/loadapplier/pkg/registry"
)

func TestClassify(t *testing.T) {
	cur := &event.Event{Version: 2}
	cases := []struct {
		name     string
		ev       event.Event
		current  *event.Event
		active   bool
		strict   bool
		decision Decision
	}{
		{"stale duplicate", event.Event{Operation: event.Update, Version: 2}, cur, true, true, Skipped},
		{"version gap", event.Event{Operation: event.Update, Version: 5}, cur, true, true, Failed},
		{"missing current strict", event.Event{Operation: event.Update, Version: 1}, nil, true, true, Failed},
		{"missing current non-strict", event.Event{Operation: event.Update, Version: 1}, nil, true, false, Skipped},
		{"table not active", event.Event{Operation: event.Insert, Version: 0}, nil, false, true, Skipped},
		{"table not active, strict has no effect", event.Event{Operation: event.Insert, Version: 0}, nil, false, false, Skipped},
		{"insert over existing", event.Event{Operation: event.Insert, Version: 0}, cur, true, true, Skipped},
		{"clean insert", event.Event{Operation: event.Insert, Version: 0}, nil, true, true, Applied},
		{"clean update", event.Event{Operation: event.Update, Version: 3}, cur, true, true, Applied},
		{"any with no current becomes insert", event.Event{Operation: event.Any, Version: 0}, nil, true, true, Applied},
		{"any with current becomes update", event.Event{Operation: event.Any, Version: 3}, cur, true, true, Applied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, _ := classify(tc.ev, tc.current, tc.active, tc.strict)
			assert.Equal(t, tc.decision, decision)
		})
	}
}

// fakeDriver is an in-memory ledger.Driver for exercising the Writer
// strategies without a real ledger connection. Unlike ledger.MemoryDriver,
// it does not roll back on error, so it's only suited to tests that don't
// need to assert atomicity.
type fakeDriver struct {
	docs []map[string]any
	rid  int
}

func (d *fakeDriver) Execute(ctx context.Context, fn ledger.TxnFunc) (any, error) {
	return fn(ctx, &fakeTxn{d})
}

func (d *fakeDriver) ActiveTableNames(ctx context.Context) ([]string, error) {
	return []string{"orders"}, nil
}

func (d *fakeDriver) Close() error { return nil }

type fakeTxn struct{ d *fakeDriver }

func (t *fakeTxn) Query(ctx context.Context, statement string, params ...any) ([]ledger.Row, error) {
	id, _ := params[0].(string)
	var out []ledger.Row
	for _, doc := range t.d.docs {
		data, _ := doc["data"].(map[string]any)
		if data == nil {
			continue
		}
		for _, v := range data {
			if s, ok := v.(string); ok && s == id {
				out = append(out, doc)
			}
		}
	}
	return out, nil
}

func (t *fakeTxn) Exec(ctx context.Context, statement string, params ...any) error {
	if len(statement) >= 6 && statement[:6] == "INSERT" {
		doc, _ := params[0].(map[string]any)
		t.d.rid++
		t.d.docs = append(t.d.docs, ledger.Row{
			"data":     doc,
			"metadata": map[string]any{"id": "rid-1", "version": 0},
		})
		return nil
	}
	return nil
}

func newTestRegistry(t *testing.T, driver ledger.Driver) *registry.ActiveTables {
	t.Helper()
	reg, err := registry.New(context.Background(), driver)
	require.NoError(t, err)
	return reg
}

// TestBackLinkWriterInsertThenDuplicateInsertSkips is the Testable Property
// S1 scenario: the same INSERT sent twice yields Applied then Skipped, never
// a failure — the document already existing is an expected outcome, not an
// error.
func TestBackLinkWriterInsertThenDuplicateInsertSkips(t *testing.T) {
	driver := &fakeDriver{}
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: BackLink, StrictMode: true}, driver, reg, nil)
	require.NoError(t, err)

	ev := event.Event{Operation: event.Insert, Table: "orders", ID: "o-1", Version: 0, Revision: map[string]any{"total": 10}}
	res, err := w.WriteEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Decision)

	res2, err := w.WriteEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res2.Decision)
}

func TestBackLinkWriterInactiveTableSkipsRegardlessOfStrictMode(t *testing.T) {
	driver := ledger.NewMemoryDriver()
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: BackLink, StrictMode: true}, driver, reg, nil)
	require.NoError(t, err)

	ev := event.Event{Operation: event.Insert, Table: "unregistered", ID: "o-1", Version: 0, Revision: map[string]any{"total": 10}}
	res, err := w.WriteEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Decision)
}

func TestTableMapperWriterNoIdentityFieldSkipsNonStrict(t *testing.T) {
	driver := &fakeDriver{}
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: TableMapper, StrictMode: false, IdentityFields: map[string]string{}}, driver, reg, nil)
	require.NoError(t, err)

	ev := event.Event{Operation: event.Insert, Table: "orders", ID: "o-1", Version: 0, Revision: map[string]any{"total": 10}}
	res, err := w.WriteEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Skipped, res.Decision)
}

// TestTableMapperWriterDoesNotMutateRevision pins spec's "the identity-field
// -mapping variant does nothing here": unlike BackLink, TableMapper must not
// stamp any field onto the written document — the identity field is
// expected to already be present in the source data.
func TestTableMapperWriterDoesNotMutateRevision(t *testing.T) {
	driver := ledger.NewMemoryDriver()
	driver.Seed("orders")
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: TableMapper, StrictMode: true, IdentityFields: map[string]string{"*": "orderId"}}, driver, reg, nil)
	require.NoError(t, err)

	ev := event.Event{Operation: event.Insert, Table: "orders", ID: "o-1", Version: 0, Revision: map[string]any{"orderId": "o-1", "total": 10}}
	res, err := w.WriteEvent(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, Applied, res.Decision)

	var stored map[string]any
	_, err = driver.Execute(context.Background(), func(ctx context.Context, txn ledger.Transaction) (any, error) {
		rows, qerr := txn.Query(ctx, "SELECT * FROM _ql_committed_orders WHERE data.orderId = ?", "o-1")
		require.NoError(t, qerr)
		require.Len(t, rows, 1)
		stored, _ = rows[0]["data"].(map[string]any)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, ev.Revision, stored, "table-mapper must write the revision unmodified, with no field stamped onto it")
}

func TestNewUnknownStrategyIsFatal(t *testing.T) {
	driver := &fakeDriver{}
	reg := newTestRegistry(t, driver)
	_, err := New(Config{Strategy: "bogus"}, driver, reg, nil)
	assert.Error(t, err)
}

// TestWriteEventsIsAtomicAcrossTheBatch pins the batch contract: a Failed
// classification partway through the batch rolls back everything the batch
// already wrote, in the same single transaction, rather than leaving earlier
// items committed.
func TestWriteEventsIsAtomicAcrossTheBatch(t *testing.T) {
	driver := ledger.NewMemoryDriver()
	driver.Seed("orders")
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: BackLink, StrictMode: true}, driver, reg, nil)
	require.NoError(t, err)

	evs := []event.Event{
		{Operation: event.Insert, Table: "orders", ID: "o-1", Version: 0, Revision: map[string]any{"total": 1}},
		{Operation: event.Update, Table: "orders", ID: "o-2", Version: 5, Revision: map[string]any{"total": 2}},
	}

	results, err := w.WriteEvents(context.Background(), evs)
	assert.Error(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Applied, results[0].Decision)
	assert.Equal(t, Failed, results[1].Decision)

	names, nerr := driver.ActiveTableNames(context.Background())
	require.NoError(t, nerr)
	assert.Contains(t, names, "orders")

	_, qerr := driver.Execute(context.Background(), func(ctx context.Context, txn ledger.Transaction) (any, error) {
		rows, err := txn.Query(ctx, "SELECT * FROM _ql_committed_orders WHERE data.oldDocumentId = ?", "o-1")
		assert.NoError(t, err)
		assert.Empty(t, rows, "the first insert must have been rolled back along with the failing second event")
		return nil, nil
	})
	require.NoError(t, qerr)
}

// TestWriteEventsDropsInvalidEventsBeforeOpeningTheTransaction verifies
// malformed events never reach the ledger transaction at all and don't
// abort the batch.
func TestWriteEventsDropsInvalidEventsBeforeOpeningTheTransaction(t *testing.T) {
	driver := ledger.NewMemoryDriver()
	driver.Seed("orders")
	reg := newTestRegistry(t, driver)
	w, err := New(Config{Strategy: BackLink, StrictMode: true}, driver, reg, nil)
	require.NoError(t, err)

	evs := []event.Event{
		{Table: "orders", ID: "bad", Version: 0}, // no Operation set: invalid
		{Operation: event.Insert, Table: "orders", ID: "o-1", Version: 0, Revision: map[string]any{"total": 1}},
	}

	results, err := w.WriteEvents(context.Background(), evs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Skipped, results[0].Decision)
	assert.Equal(t, Applied, results[1].Decision)
}
