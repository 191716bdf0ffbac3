package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/writer"
)

func encodeForeign(t *testing.T, rec foreignRecord) []byte {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	return raw
}

type fakeWriter struct {
	failIDs map[string]bool
	applied []event.Event
}

func (w *fakeWriter) WriteEvent(ctx context.Context, ev event.Event) (writer.ValidationResult, error) {
	if w.failIDs[ev.ID] {
		return writer.ValidationResult{Event: ev, Decision: writer.Failed}, errors.New("boom")
	}
	w.applied = append(w.applied, ev)
	return writer.ValidationResult{Event: ev, Decision: writer.Applied}, nil
}

type fakeQueueSource struct{ items []QueueItem }

func (s *fakeQueueSource) ReceiveBatch(ctx context.Context) ([]QueueItem, error) { return s.items, nil }

type fakeBatchSource struct{ batch [][]byte }

func (s *fakeBatchSource) ReceiveBatch(ctx context.Context) ([][]byte, error) { return s.batch, nil }

type fakeRecordSource struct {
	records [][]byte
	i       int
}

func (s *fakeRecordSource) Receive(ctx context.Context) ([]byte, error) {
	if s.i >= len(s.records) {
		return nil, errors.New("exhausted")
	}
	r := s.records[s.i]
	s.i++
	return r, nil
}

func TestQueueChannelReportsPerItemFailure(t *testing.T) {
	good := encodeForeign(t, foreignRecord{Table: "orders", Operation: "INSERT", ID: "o-1", Data: map[string]any{"total": 1.0}})
	bad := encodeForeign(t, foreignRecord{Table: "orders", Operation: "INSERT", ID: "o-2", Data: map[string]any{"total": 2.0}})

	w := &fakeWriter{failIDs: map[string]bool{"o-2": true}}
	ch := &QueueChannel{
		Source: &fakeQueueSource{items: []QueueItem{{ID: "m-1", Raw: good}, {ID: "m-2", Raw: bad}}},
		Mapper: identityStub{},
		Writer: w,
	}

	failed, err := ch.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m-2"}, failed)
	assert.Len(t, w.applied, 1)
}

func TestTopicChannelThrowsAfterFullBatch(t *testing.T) {
	good := encodeForeign(t, foreignRecord{Table: "orders", Operation: "INSERT", ID: "o-1"})
	bad := encodeForeign(t, foreignRecord{Table: "orders", Operation: "INSERT", ID: "o-2"})

	w := &fakeWriter{failIDs: map[string]bool{"o-2": true}}
	ch := &TopicChannel{
		Source: &fakeBatchSource{batch: [][]byte{good, bad}},
		Mapper: identityStub{},
		Writer: w,
	}

	err := ch.ProcessOnce(context.Background())
	assert.Error(t, err)
	assert.Len(t, w.applied, 1)
}

func TestEventBusChannelThrowsImmediately(t *testing.T) {
	bad := encodeForeign(t, foreignRecord{Table: "orders", Operation: "INSERT", ID: "o-1"})
	w := &fakeWriter{failIDs: map[string]bool{"o-1": true}}
	ch := &EventBusChannel{
		Source: &fakeRecordSource{records: [][]byte{bad}},
		Mapper: identityStub{},
		Writer: w,
	}

	err := ch.ProcessOnce(context.Background())
	assert.Error(t, err)
}

func TestLedgerStreamChannelFiltersNonRevisionRecords(t *testing.T) {
	revision := ledgerStreamRecord{
		RecordType: "REVISION_DETAILS",
		TableName:  "orders",
		Revision: map[string]any{
			"data":     map[string]any{"total": 1.0},
			"metadata": map[string]any{"id": "o-1", "version": 0},
		},
	}
	summary := ledgerStreamRecord{RecordType: "BLOCK_SUMMARY", TableName: "orders"}

	revRaw, err := json.Marshal(revision)
	require.NoError(t, err)
	summaryRaw, err := json.Marshal(summary)
	require.NoError(t, err)

	w := &fakeWriter{}
	ch := &LedgerStreamChannel{
		Source: &fakeBatchSource{batch: [][]byte{revRaw, summaryRaw}},
		Writer: w,
	}

	err = ch.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, w.applied, 1)
	assert.Equal(t, "o-1", w.applied[0].ID)
}

func TestCDCChannelFiltersControlRecordsAndForcesInsertVersionZero(t *testing.T) {
	control := encodeForeign(t, foreignRecord{RecordType: dmsControlRecordType})
	// DMS uses its own lowercase operation vocabulary, not the canonical
	// uppercase one: "load" means INSERT.
	load := encodeForeign(t, foreignRecord{Table: "orders", Operation: "load", ID: "o-1", Version: intPtr(7)})

	w := &fakeWriter{}
	ch := &CDCChannel{
		Source: &fakeRecordSource{records: [][]byte{control, load}},
		Mapper: identityStub{},
		Writer: w,
	}

	require.NoError(t, ch.ProcessOnce(context.Background()))
	require.NoError(t, ch.ProcessOnce(context.Background()))
	require.Len(t, w.applied, 1)
	assert.Equal(t, event.Insert, w.applied[0].Operation)
	assert.Equal(t, 0, w.applied[0].Version)
}

func TestCDCChannelRecognizesLowercaseUpdateAndDelete(t *testing.T) {
	update := encodeForeign(t, foreignRecord{Table: "orders", Operation: "update", ID: "o-1", Version: intPtr(3)})
	del := encodeForeign(t, foreignRecord{Table: "orders", Operation: "delete", ID: "o-2"})

	w := &fakeWriter{}
	ch := &CDCChannel{
		Source: &fakeRecordSource{records: [][]byte{update, del}},
		Mapper: identityStub{},
		Writer: w,
	}

	require.NoError(t, ch.ProcessOnce(context.Background()))
	require.NoError(t, ch.ProcessOnce(context.Background()))
	require.Len(t, w.applied, 2)
	assert.Equal(t, event.Update, w.applied[0].Operation)
	assert.Equal(t, event.Delete, w.applied[1].Operation)
}

func TestCDCChannelSkipsUnrecognizedOperationWithoutError(t *testing.T) {
	unknown := encodeForeign(t, foreignRecord{Table: "orders", Operation: "truncate", ID: "o-1"})

	w := &fakeWriter{}
	ch := &CDCChannel{
		Source: &fakeRecordSource{records: [][]byte{unknown}},
		Mapper: identityStub{},
		Writer: w,
	}

	require.NoError(t, ch.ProcessOnce(context.Background()))
	assert.Empty(t, w.applied)
}

func intPtr(v int) *int { return &v }

// identityStub is a minimal mapping.Mapper for dispatcher tests that
// doesn't need a real mapping file.
type identityStub struct{}

func (identityStub) MapTableName(t string) (string, bool) { return t, true }
func (identityStub) MapDataRecord(_ string, data, _ map[string]any) map[string]any {
	return data
}
func (identityStub) MapPrimaryKey(_ string, _, _ map[string]any) (string, bool) { return "", false }
