// Package mapping translates a foreign schema's change record into a
// canonical event.Event using a file-driven table/field mapping
// configuration, following the teacher's kazaam-based transform package but
// specialized to the narrow shift/path-copy shape a table/field mapping
// needs rather than kazaam's full rule language.
package mapping

import (
	"strings"
)

// FieldMapping maps one field from a source record to the target schema.
type FieldMapping struct {
	SourceField string `json:"source-field"`
	TargetField string `json:"target-field"`
}

// TableMapping is a single table's entry in a mapping file: which source
// table maps to which target table, which field is the identity key, and
// which fields carry over (and under what name).
type TableMapping struct {
	SourceTable string         `json:"source-table"`
	TargetTable string         `json:"target-table"`
	IDField     string         `json:"id-field"`
	Fields      []FieldMapping `json:"fields"`
}

// Wildcard is the fallback table-mapping key, matching any source table
// with no specific entry.
const Wildcard = "*"

// Mapper translates records and keys from a foreign schema to the
// canonical one. beforeImage is non-nil only for key-changing updates; when
// present, its values take precedence for primary-key derivation.
type Mapper interface {
	MapTableName(sourceTable string) (string, bool)
	MapDataRecord(sourceTable string, data, beforeImage map[string]any) map[string]any
	MapPrimaryKey(sourceTable string, data, beforeImage map[string]any) (string, bool)
}

// Kind selects a Mapper implementation, replacing the original's
// LoadEventMapperFactory.buildFromEnvironment() reflection with a typed
// enum and constructor switch.
type Kind string

const (
	// FileDriven loads table/field mappings from a JSON mapping file.
	FileDriven Kind = "file"
	// Identity passes every table and field through unchanged. Useful when
	// the upstream channel already emits in the ledger's own schema.
	Identity Kind = "identity"
)

func lookupTable(tables map[string]TableMapping, sourceTable string) (TableMapping, bool) {
	if tm, ok := tables[sourceTable]; ok {
		return tm, true
	}
	if tm, ok := tables[Wildcard]; ok {
		return tm, true
	}
	return TableMapping{}, false
}

func mapField(fields []FieldMapping, data map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookupPath(data, f.SourceField); ok {
			out[f.TargetField] = v
		}
	}
	return out
}

// lookupPath resolves a dotted field path ("metadata.id") against a nested
// map, mirroring the dotted paths a kazaam shift spec addresses.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
