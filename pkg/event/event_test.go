package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	cases := []struct {
		name  string
		event Event
		valid bool
	}{
		{"missing operation", Event{Table: "orders"}, false},
		{"missing table", Event{Operation: Insert}, false},
		{"insert without revision", Event{Operation: Insert, Table: "orders"}, false},
		{"update without revision", Event{Operation: Update, Table: "orders"}, false},
		{"delete without revision is fine", Event{Operation: Delete, Table: "orders"}, true},
		{"any without revision is fine", Event{Operation: Any, Table: "orders"}, true},
		{"insert with revision", Event{Operation: Insert, Table: "orders", Revision: map[string]any{"a": 1}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.event.IsValid())
		})
	}
}

func TestParseOperation(t *testing.T) {
	op, ok := ParseOperation("UPDATE")
	require.True(t, ok)
	assert.Equal(t, Update, op)

	_, ok = ParseOperation("REPLACE")
	assert.False(t, ok)
}

func TestFromCommittedRevisionInsert(t *testing.T) {
	row := map[string]any{
		"data":     map[string]any{"name": "alice"},
		"metadata": map[string]any{"id": "doc-1", "version": 0},
	}
	ev, ok := FromCommittedRevision(row, "users")
	require.True(t, ok)
	assert.Equal(t, Insert, ev.Operation)
	assert.Equal(t, "doc-1", ev.ID)
	assert.Equal(t, 0, ev.Version)
}

func TestFromCommittedRevisionUpdate(t *testing.T) {
	row := map[string]any{
		"data":     map[string]any{"name": "alice"},
		"metadata": map[string]any{"id": "doc-1", "version": 2},
	}
	ev, ok := FromCommittedRevision(row, "users")
	require.True(t, ok)
	assert.Equal(t, Update, ev.Operation)
}

func TestFromCommittedRevisionDelete(t *testing.T) {
	row := map[string]any{
		"metadata": map[string]any{"id": "doc-1", "version": 3},
	}
	ev, ok := FromCommittedRevision(row, "users")
	require.True(t, ok)
	assert.Equal(t, Delete, ev.Operation)
	assert.Nil(t, ev.Revision)
}

func TestDeduplicationFingerprintStableUnderFieldOrder(t *testing.T) {
	a := Event{
		Operation: Update,
		Table:     "orders",
		ID:        "o-1",
		Version:   2,
		Revision:  map[string]any{"total": float64(10), "status": "shipped"},
	}
	b := a
	b.Revision = map[string]any{"status": "shipped", "total": float64(10)}

	fa, err := a.DeduplicationFingerprint()
	require.NoError(t, err)
	fb, err := b.DeduplicationFingerprint()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	b.Version = 3
	fc, err := b.DeduplicationFingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fa, fc)
}

func TestJSONRoundTrip(t *testing.T) {
	original := Event{
		Operation:     Update,
		Table:         "orders",
		ID:            "o-1",
		Version:       4,
		Revision:      map[string]any{"total": float64(42)},
		GroupingValue: "shard-1",
	}

	raw, err := original.ToJSON()
	require.NoError(t, err)

	parsed, ok := FromJSON(raw)
	require.True(t, ok)
	assert.Equal(t, original.Operation, parsed.Operation)
	assert.Equal(t, original.Table, parsed.Table)
	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.Version, parsed.Version)
	assert.Equal(t, original.GroupingValue, parsed.GroupingValue)
}

func TestFromJSONMalformedReturnsFalse(t *testing.T) {
	_, ok := FromJSON([]byte("not json"))
	assert.False(t, ok)

	_, ok = FromJSON(nil)
	assert.False(t, ok)
}
