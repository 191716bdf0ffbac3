// Package event defines the canonical Event representation that flows from
// a Dispatcher channel, through an optional Mapper, into a Writer.
package event

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Operation is the kind of change a Event describes.
type Operation string

const (
	Insert Operation = "INSERT"
	Update Operation = "UPDATE"
	Delete Operation = "DELETE"
	// Any leaves the choice of INSERT/UPDATE/DELETE to the Writer, based on
	// whether a current revision exists for the event's ID.
	Any Operation = "ANY"
)

// ParseOperation mirrors the Java enum's forString: unrecognized values
// return ("", false) rather than an error, since Operation.forString itself
// never throws.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case Insert, Update, Delete, Any:
		return Operation(s), true
	default:
		return "", false
	}
}

// Event is a pending insert, update, or delete of a single document
// revision against the ledger. GroupingValue is used for ordering within a
// partition/group on channels that support it (FIFO queues, Kafka keys).
type Event struct {
	Operation     Operation      `json:"op,omitempty"`
	Table         string         `json:"table,omitempty"`
	ID            string         `json:"id,omitempty"`
	Version       int            `json:"version,omitempty"`
	Revision      map[string]any `json:"data,omitempty"`
	GroupingValue string         `json:"group,omitempty"`
}

// UnknownVersion is the sentinel used when an event carries no version
// information.
const UnknownVersion = -1

// New returns an Event with Version defaulted to UnknownVersion, matching
// the Java LoadEvent's implicit `version = -1` field initializer.
func New() Event {
	return Event{Version: UnknownVersion}
}

// IsValid reports whether the event carries enough information to be
// applied: Operation and Table are required, and Revision is required
// unless the operation is DELETE or ANY (an ANY delete has no revision).
func (e Event) IsValid() bool {
	if e.Operation == "" || strings.TrimSpace(e.Table) == "" {
		return false
	}
	if e.Revision != nil {
		return true
	}
	return e.Operation != Insert && e.Operation != Update
}

// FromCommittedRevision builds an Event from a ledger committed-view row
// shaped like {"data": {...}, "metadata": {"id": ..., "version": ...}}.
// It derives the Operation the way the ledger-stream Dispatcher channel
// does: no data means the document was deleted; version 0 means it was
// just inserted; anything else is an update.
func FromCommittedRevision(row map[string]any, table string) (Event, bool) {
	if len(row) == 0 || strings.TrimSpace(table) == "" {
		return Event{}, false
	}

	metaVal, ok := row["metadata"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	id, _ := metaVal["id"].(string)
	version, ok := asInt(metaVal["version"])
	if !ok {
		return Event{}, false
	}

	data, hasData := row["data"].(map[string]any)

	op := Update
	switch {
	case !hasData:
		op = Delete
	case version == 0:
		op = Insert
	}

	ev := Event{
		Operation: op,
		Table:     table,
		ID:        id,
		Version:   version,
	}
	if hasData {
		ev.Revision = data
	}
	return ev, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// DeduplicationFingerprint returns a base64-encoded SHA-256 hash of the
// event's canonical serialization, mirroring LoadEvent.getDeduplicationId.
// Canonicalization sorts map keys and omits absent fields so that two
// logically-equal events hash identically regardless of field order.
func (e Event) DeduplicationFingerprint() (string, error) {
	canon, err := canonicalJSON(e)
	if err != nil {
		return "", fmt.Errorf("event: canonicalize for fingerprint: %w", err)
	}
	sum := sha256.Sum256(canon)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func canonicalJSON(e Event) ([]byte, error) {
	return marshalSorted(toFieldMap(e))
}

// marshalSorted renders a map[string]any as JSON with keys in sorted order,
// recursing into nested maps, so the fingerprint above is stable.
func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(val)
	}
}

// FromJSON parses the wire format documented in SPEC_FULL.md's External
// Interfaces section: {"op","id","table","data","version","group"}.
// It mirrors LoadEvent.fromIon/fromString, returning (Event{}, false) for
// nil, empty, or malformed input rather than an error — matching the
// original's "return null" behavior on bad input.
func FromJSON(raw []byte) (Event, bool) {
	if len(raw) == 0 {
		return Event{}, false
	}

	var wire struct {
		Op      string         `json:"op"`
		ID      string         `json:"id"`
		Table   string         `json:"table"`
		Data    map[string]any `json:"data"`
		Version *int           `json:"version"`
		Group   string         `json:"group"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Event{}, false
	}

	ev := New()
	if op, ok := ParseOperation(wire.Op); ok {
		ev.Operation = op
	}
	ev.ID = wire.ID
	ev.Table = wire.Table
	ev.Revision = wire.Data
	ev.GroupingValue = wire.Group
	if wire.Version != nil {
		ev.Version = *wire.Version
	}
	return ev, true
}

// ToJSON renders the event in the wire format described above, omitting
// fields left at their zero value (mirroring LoadEvent.toIon's field-by-
// field presence checks).
func (e Event) ToJSON() ([]byte, error) {
	return marshalSorted(toFieldMap(e))
}

func toFieldMap(e Event) map[string]any {
	fields := map[string]any{}
	if e.Operation != "" {
		fields["op"] = string(e.Operation)
	}
	if e.ID != "" {
		fields["id"] = e.ID
	}
	if e.Table != "" {
		fields["table"] = e.Table
	}
	if e.Revision != nil {
		fields["data"] = e.Revision
	}
	if e.Version >= 0 {
		fields["version"] = e.Version
	}
	if e.GroupingValue != "" {
		fields["group"] = e.GroupingValue
	}
	return fields
}
