package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDriverInsertThenQueryByIdentityField(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()

	_, err := d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		return nil, txn.Exec(ctx, "INSERT INTO orders VALUE ?", map[string]any{"oldDocumentId": "ord-1", "amount": 10})
	})
	require.NoError(t, err)

	var rows []Row
	_, err = d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		var qerr error
		rows, qerr = txn.Query(ctx, "SELECT * FROM _ql_committed_orders WHERE data.oldDocumentId = ?", "ord-1")
		return nil, qerr
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	data := rows[0]["data"].(map[string]any)
	assert.Equal(t, "ord-1", data["oldDocumentId"])

	meta := rows[0]["metadata"].(map[string]any)
	assert.Equal(t, 0, meta["version"])
}

func TestMemoryDriverUpdateIncrementsVersion(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()

	var rid string
	_, err := d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		return nil, txn.Exec(ctx, "INSERT INTO orders VALUE ?", map[string]any{"oldDocumentId": "ord-1"})
	})
	require.NoError(t, err)

	_, err = d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		rows, qerr := txn.Query(ctx, "SELECT * FROM _ql_committed_orders WHERE data.oldDocumentId = ?", "ord-1")
		if qerr != nil {
			return nil, qerr
		}
		meta := rows[0]["metadata"].(map[string]any)
		rid = meta["id"].(string)
		return nil, txn.Exec(ctx, "UPDATE orders AS d BY rid SET d = ? WHERE rid = ?", map[string]any{"oldDocumentId": "ord-1", "amount": 42}, rid)
	})
	require.NoError(t, err)

	_, err = d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		rows, qerr := txn.Query(ctx, "SELECT * FROM _ql_committed_orders WHERE data.oldDocumentId = ?", "ord-1")
		if qerr != nil {
			return nil, qerr
		}
		meta := rows[0]["metadata"].(map[string]any)
		assert.Equal(t, 1, meta["version"])
		assert.Equal(t, rid, meta["id"])
		return nil, nil
	})
	require.NoError(t, err)
}

func TestMemoryDriverActiveTableNamesReflectsSeedAndWrites(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()
	d.Seed("accounts")

	_, err := d.Execute(ctx, func(ctx context.Context, txn Transaction) (any, error) {
		return nil, txn.Exec(ctx, "INSERT INTO orders VALUE ?", map[string]any{"oldDocumentId": "ord-1"})
	})
	require.NoError(t, err)

	names, err := d.ActiveTableNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"accounts", "orders"}, names)
}
