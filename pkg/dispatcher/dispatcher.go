// Package dispatcher implements the six channel contracts load events can
// arrive on, each with its own batching and failure-reporting shape, ahead
// of the shared Mapper -> Writer pipeline.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/mapping"
	"github.com/ledgerapply/loadapplier/pkg/writer"
)

// Channel is the uniform shape the service package drives all six channel
// contracts through: pump one batch/record and report a hard error if the
// source or writer is unreachable. Channels with richer per-call results
// (QueueChannel.ProcessOnce) expose a Run method satisfying this interface
// alongside their own richer method.
type Channel interface {
	Run(ctx context.Context) error
}

// RecordSource yields one raw record at a time, for channels with a
// per-record or single-record contract (event bus, CDC).
type RecordSource interface {
	Receive(ctx context.Context) ([]byte, error)
}

// BatchSource yields a batch of raw records at a time, for channels with a
// batch-shaped contract (pub/sub topic, partitioned log).
type BatchSource interface {
	ReceiveBatch(ctx context.Context) ([][]byte, error)
}

// QueueItem is a single point-to-point queue message, carrying its own
// identifier so a failure can be reported back per-item rather than for
// the batch as a whole.
type QueueItem struct {
	ID  string
	Raw []byte
}

// QueueSource yields a batch of independently-acknowledgeable items, for
// the point-to-point queue channel.
type QueueSource interface {
	ReceiveBatch(ctx context.Context) ([]QueueItem, error)
}

// EventWriter is the narrow slice of writer.Writer the dispatcher channels
// need.
type EventWriter interface {
	WriteEvent(ctx context.Context, ev event.Event) (writer.ValidationResult, error)
}

// foreignRecord is the wire shape channels with a Mapper decode before
// translation: a foreign system's own change-record representation, not
// yet in this module's canonical Event shape.
type foreignRecord struct {
	Table      string         `json:"table"`
	Operation  string         `json:"op"`
	ID         string         `json:"id"`
	Version    *int           `json:"version"`
	Data       map[string]any `json:"data"`
	Before     map[string]any `json:"before"`
	RecordType string         `json:"recordType"`
	Group      string         `json:"group"`
}

func decodeForeign(raw []byte) (foreignRecord, bool) {
	var rec foreignRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return foreignRecord{}, false
	}
	return rec, true
}

// translate maps a foreignRecord into a canonical Event via m, the shared
// path used by every Mapper-backed channel that isn't CDC (queue, topic,
// event bus, generic partitioned log). It expects the record's op field to
// already use the canonical INSERT/UPDATE/DELETE/ANY vocabulary.
func translate(rec foreignRecord, m mapping.Mapper) (event.Event, bool) {
	return translateOp(rec, m, event.ParseOperation)
}

// parseCDCOperation maps the DMS-style lowercase operation vocabulary a CDC
// record arrives with — "load" and "insert" both mean INSERT, "update"
// means UPDATE, "delete" means DELETE. Anything else is unrecognized;
// CDCChannel skips the record with a warning rather than treating this as
// an error, matching the original receiver's behavior on an unknown op.
func parseCDCOperation(s string) (event.Operation, bool) {
	switch strings.ToLower(s) {
	case "load", "insert":
		return event.Insert, true
	case "update":
		return event.Update, true
	case "delete":
		return event.Delete, true
	default:
		return "", false
	}
}

// translateOp is translate's parameterized form, letting CDCChannel supply
// its own lowercase operation vocabulary instead of the canonical one.
func translateOp(rec foreignRecord, m mapping.Mapper, parseOp func(string) (event.Operation, bool)) (event.Event, bool) {
	targetTable, ok := m.MapTableName(rec.Table)
	if !ok {
		return event.Event{}, false
	}

	op, ok := parseOp(rec.Operation)
	if !ok {
		return event.Event{}, false
	}

	return buildEvent(rec, m, targetTable, op), true
}

// buildEvent assembles the canonical Event once the target table and
// operation have already been resolved.
func buildEvent(rec foreignRecord, m mapping.Mapper, targetTable string, op event.Operation) event.Event {
	data := m.MapDataRecord(rec.Table, rec.Data, rec.Before)

	id := rec.ID
	if mappedID, ok := m.MapPrimaryKey(rec.Table, rec.Data, rec.Before); ok {
		id = mappedID
	}

	ev := event.New()
	ev.Operation = op
	ev.Table = targetTable
	ev.ID = id
	ev.Revision = data
	ev.GroupingValue = rec.Group
	if rec.Version != nil {
		ev.Version = *rec.Version
	}
	return ev
}

func decodeAndTranslate(raw []byte, m mapping.Mapper) (event.Event, bool) {
	rec, ok := decodeForeign(raw)
	if !ok {
		return event.Event{}, false
	}
	return translate(rec, m)
}

func batchFailureError(channel string, failed, total int) error {
	return fmt.Errorf("%s: %d of %d records failed", channel, failed, total)
}
