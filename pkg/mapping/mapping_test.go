package mapping

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMappingFile(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const sampleMapping = `{
  "tables": [
    {"source-table": "orders_v1", "target-table": "orders", "id-field": "order_id",
     "fields": [{"source-field": "order_id", "target-field": "id"}, {"source-field": "total", "target-field": "amount"}]},
    {"source-table": "*", "target-table": "misc", "id-field": "id", "fields": []}
  ]
}`

func TestFileMapperMapTableName(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, sampleMapping)
	m, err := NewFileMapper(path)
	require.NoError(t, err)
	defer m.Close()

	target, ok := m.MapTableName("orders_v1")
	require.True(t, ok)
	assert.Equal(t, "orders", target)

	target, ok = m.MapTableName("unknown_table")
	require.True(t, ok)
	assert.Equal(t, "misc", target)
}

func TestFileMapperMapDataRecord(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, sampleMapping)
	m, err := NewFileMapper(path)
	require.NoError(t, err)
	defer m.Close()

	out := m.MapDataRecord("orders_v1", map[string]any{"order_id": "o-1", "total": float64(42), "extra": "dropped"}, nil)
	assert.Equal(t, "o-1", out["id"])
	assert.Equal(t, float64(42), out["amount"])
	_, hasExtra := out["extra"]
	assert.False(t, hasExtra)
}

func TestFileMapperMapPrimaryKeyPrefersBeforeImage(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, sampleMapping)
	m, err := NewFileMapper(path)
	require.NoError(t, err)
	defer m.Close()

	id, ok := m.MapPrimaryKey("orders_v1", map[string]any{"order_id": "new-id"}, map[string]any{"order_id": "old-id"})
	require.True(t, ok)
	assert.Equal(t, "old-id", id)
}

func TestFileMapperHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeMappingFile(t, dir, sampleMapping)
	m, err := NewFileMapper(path)
	require.NoError(t, err)
	defer m.Close()

	updated := `{"tables": [{"source-table": "orders_v1", "target-table": "orders_v2", "id-field": "order_id", "fields": []}]}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		target, ok := m.MapTableName("orders_v1")
		return ok && target == "orders_v2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIdentityMapperPassesThrough(t *testing.T) {
	m, err := New(Identity, "")
	require.NoError(t, err)

	target, ok := m.MapTableName("anything")
	require.True(t, ok)
	assert.Equal(t, "anything", target)

	data := map[string]any{"a": 1}
	assert.Equal(t, data, m.MapDataRecord("anything", data, nil))

	_, ok = m.MapPrimaryKey("anything", data, nil)
	assert.False(t, ok)
}

func TestNewUnknownKindErrors(t *testing.T) {
	_, err := New(Kind("bogus"), "")
	assert.Error(t, err)
}
