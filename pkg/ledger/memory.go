package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryDriver is an in-process Driver implementation for local development
// and single-instance deployments with no real ledger to connect to. It
// recognizes exactly the statement shapes the writer package emits
// (INSERT INTO %s VALUE ?, UPDATE %s AS d BY rid SET d = ? WHERE rid = ?,
// DELETE FROM %s BY rid WHERE rid = ?, SELECT * FROM _ql_committed_%s WHERE
// data.%s = ?) rather than a general PartiQL interpreter — this module
// vendors no ledger client, so MemoryDriver is deliberately narrow, mirroring
// store.MemoryStore's role as the no-external-dependency stand-in.
//
// It does not model real multi-writer optimistic concurrency: Execute holds
// a process-wide lock for the duration of fn, so OCC conflicts never occur
// within a single MemoryDriver. It exists to make the Dispatcher->Mapper->
// Writer pipeline runnable end to end without a ledger, not to validate OCC
// retry behavior (writer_test.go's fakeDriver already covers that).
type MemoryDriver struct {
	mu      sync.Mutex
	nextRID int
	// docs is keyed by table, then by rid.
	docs map[string]map[string]memoryDoc
}

type memoryDoc struct {
	data    map[string]any
	version int
}

// NewMemoryDriver builds an empty MemoryDriver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{docs: make(map[string]map[string]memoryDoc)}
}

func (d *MemoryDriver) Execute(ctx context.Context, fn TxnFunc) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot, nextRID := d.snapshot()
	result, err := fn(ctx, &memoryTxn{d: d})
	if err != nil {
		d.docs = snapshot
		d.nextRID = nextRID
		return nil, err
	}
	return result, nil
}

// snapshot deep-copies docs so Execute can roll back everything fn wrote if
// fn returns an error, matching the all-or-nothing contract a real ledger
// transaction gives writer.WriteEvents.
func (d *MemoryDriver) snapshot() (map[string]map[string]memoryDoc, int) {
	out := make(map[string]map[string]memoryDoc, len(d.docs))
	for table, rows := range d.docs {
		rowsCopy := make(map[string]memoryDoc, len(rows))
		for rid, doc := range rows {
			rowsCopy[rid] = doc
		}
		out[table] = rowsCopy
	}
	return out, d.nextRID
}

// ActiveTableNames returns every table a document has ever been written
// to; a freshly created MemoryDriver reports none until told otherwise via
// Seed, since the registry would otherwise reject every write as
// against an unknown table.
func (d *MemoryDriver) ActiveTableNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.docs))
	for t := range d.docs {
		names = append(names, t)
	}
	return names, nil
}

func (d *MemoryDriver) Close() error { return nil }

// Seed declares table as active without writing any document to it, so a
// freshly started MemoryDriver can pass the registry's snapshot fetch for
// tables no event has touched yet.
func (d *MemoryDriver) Seed(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.docs[table]; !ok {
		d.docs[table] = make(map[string]memoryDoc)
	}
}

type memoryTxn struct{ d *MemoryDriver }

func (t *memoryTxn) Query(ctx context.Context, statement string, params ...any) ([]Row, error) {
	table, idField, ok := parseCommittedViewQuery(statement)
	if !ok {
		return nil, fmt.Errorf("ledger/memory: unsupported query: %s", statement)
	}
	id, _ := params[0].(string)

	var out []Row
	for rid, doc := range t.d.docs[table] {
		if fmt.Sprint(doc.data[idField]) != id {
			continue
		}
		out = append(out, Row{
			"data":     doc.data,
			"metadata": map[string]any{"id": rid, "version": doc.version},
		})
	}
	return out, nil
}

func (t *memoryTxn) Exec(ctx context.Context, statement string, params ...any) error {
	switch {
	case strings.HasPrefix(statement, "INSERT"):
		table := extractTable(statement, "INSERT INTO ")
		doc, _ := params[0].(map[string]any)
		t.d.nextRID++
		rid := fmt.Sprintf("rid-%d", t.d.nextRID)
		if t.d.docs[table] == nil {
			t.d.docs[table] = make(map[string]memoryDoc)
		}
		t.d.docs[table][rid] = memoryDoc{data: doc, version: 0}
		return nil

	case strings.HasPrefix(statement, "UPDATE"):
		table := extractTable(statement, "UPDATE ")
		doc, _ := params[0].(map[string]any)
		rid, _ := params[1].(string)
		existing, ok := t.d.docs[table][rid]
		if !ok {
			return fmt.Errorf("ledger/memory: update: no document with rid %s in %s", rid, table)
		}
		existing.data = doc
		existing.version++
		t.d.docs[table][rid] = existing
		return nil

	case strings.HasPrefix(statement, "DELETE"):
		table := extractTable(statement, "DELETE FROM ")
		rid, _ := params[0].(string)
		delete(t.d.docs[table], rid)
		return nil

	default:
		return fmt.Errorf("ledger/memory: unsupported statement: %s", statement)
	}
}

// extractTable pulls the table name out of a statement of the form
// "<prefix><table> <rest...>".
func extractTable(statement, prefix string) string {
	rest := strings.TrimPrefix(statement, prefix)
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// parseCommittedViewQuery extracts the table and identity field from a
// "SELECT * FROM _ql_committed_<table> WHERE data.<field> = ?" statement.
func parseCommittedViewQuery(statement string) (table, field string, ok bool) {
	const prefix = "SELECT * FROM _ql_committed_"
	if !strings.HasPrefix(statement, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(statement, prefix)
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return "", "", false
	}
	table = rest[:sp]

	const whereData = "WHERE data."
	idx := strings.Index(rest, whereData)
	if idx < 0 {
		return "", "", false
	}
	rest = rest[idx+len(whereData):]
	eq := strings.IndexByte(rest, ' ')
	if eq < 0 {
		return "", "", false
	}
	field = rest[:eq]
	return table, field, true
}

var _ Driver = (*MemoryDriver)(nil)
