package writer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/apperr"
	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/ledger"
)

// tableMapperWriter looks up the current revision by a per-table identity
// field (e.g. a downstream system's own primary key) rather than by a
// back-link field shared across all tables. identityFields maps table name
// to the data field holding that identity; "*" is the fallback used when a
// table has no specific entry. Unlike BackLink, this strategy's
// adjustRevision step does nothing: the identity field is expected to
// already be present in the event's own data, so the written document is
// exactly ev.Revision, unmodified.
type tableMapperWriter struct {
	core
	identityFields map[string]string
}

func (w *tableMapperWriter) identityField(table string) (string, bool) {
	if f, ok := w.identityFields[table]; ok {
		return f, true
	}
	if f, ok := w.identityFields["*"]; ok {
		return f, true
	}
	return "", false
}

func (w *tableMapperWriter) WriteEvent(ctx context.Context, ev event.Event) (ValidationResult, error) {
	if !ev.IsValid() {
		return ValidationResult{Event: ev, Decision: Failed, Reason: "invalid event"},
			apperr.NewFail(ev.Table, ev.ID, "invalid event", nil)
	}

	idField, ok := w.identityField(ev.Table)
	if !ok {
		decision := Failed
		if !w.strict {
			decision = Skipped
		}
		res := ValidationResult{Event: ev, Decision: decision, Reason: "no identity field mapped for table"}
		if decision == Failed {
			return res, apperr.NewFail(ev.Table, ev.ID, res.Reason, nil)
		}
		log.Info().Str("table", ev.Table).Str("id", ev.ID).Msg("skip: no identity field mapped for table")
		return res, nil
	}

	if dup, err := w.checkDuplicate(ctx, ev); err != nil {
		return ValidationResult{Event: ev, Decision: Failed, Reason: "dedup check failed"}, err
	} else if dup {
		res := ValidationResult{Event: ev, Decision: Skipped, Reason: "duplicate fingerprint"}
		log.Info().Str("table", ev.Table).Str("id", ev.ID).Msg("skip: duplicate fingerprint")
		return res, nil
	}

	active := w.tables.IsActive(ev.Table)

	var decision Decision
	var reason string
	_, err := w.runWithRetry(ctx, ev.Table, ev.ID, func(ctx context.Context, txn ledger.Transaction) (any, error) {
		d, r, err := w.applyOne(ctx, txn, ev, idField, active)
		decision, reason = d, r
		return nil, err
	})

	result := ValidationResult{Event: ev, Decision: decision, Reason: reason}
	if err != nil {
		if decision == "" {
			result = ValidationResult{Event: ev, Decision: Failed, Reason: err.Error()}
		}
		return result, err
	}

	logDecision(result)
	if result.Decision == Failed {
		return result, apperr.NewFail(ev.Table, ev.ID, result.Reason, nil)
	}
	return result, nil
}

func (w *tableMapperWriter) WriteEvents(ctx context.Context, evs []event.Event) ([]ValidationResult, error) {
	return writeBatchSequential(ctx, &w.core, evs, func(ctx context.Context, txn ledger.Transaction, ev event.Event, active bool) (Decision, string, error) {
		idField, ok := w.identityField(ev.Table)
		if !ok {
			if w.strict {
				return Failed, "no identity field mapped for table", nil
			}
			return Skipped, "no identity field mapped for table", nil
		}
		return w.applyOne(ctx, txn, ev, idField, active)
	})
}

// applyOne classifies ev against the current revision and, if Applied,
// issues its write statement unchanged — no field is stamped onto the
// document, matching the identity-field-mapping strategy's no-op
// adjustRevision step.
func (w *tableMapperWriter) applyOne(ctx context.Context, txn ledger.Transaction, ev event.Event, idField string, active bool) (Decision, string, error) {
	current, rid, err := w.fetchCurrent(ctx, txn, ev.Table, idField, ev.ID)
	if err != nil {
		return Failed, "current-revision query failed", err
	}

	decision, reason := classify(ev, current, active, w.strict)
	if decision != Applied {
		return decision, reason, nil
	}

	op := ev.Operation
	if op == event.Any {
		if current == nil {
			op = event.Insert
		} else {
			op = event.Update
		}
	}

	switch op {
	case event.Insert:
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("INSERT INTO %s VALUE ?", ev.Table), ev.Revision)
	case event.Update:
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("UPDATE %s AS d BY rid SET d = ? WHERE rid = ?", ev.Table), ev.Revision, rid)
	case event.Delete:
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("DELETE FROM %s BY rid WHERE rid = ?", ev.Table), rid)
	default:
		return Failed, fmt.Sprintf("unhandled operation %q", op), nil
	}
}

func (w *tableMapperWriter) fetchCurrent(ctx context.Context, txn ledger.Transaction, table, idField, id string) (*event.Event, string, error) {
	stmt := fmt.Sprintf("SELECT * FROM _ql_committed_%s WHERE data.%s = ?", table, idField)
	rows, err := txn.Query(ctx, stmt, id)
	if err != nil {
		return nil, "", apperr.NewFail(table, id, "current-revision query failed", err)
	}
	if len(rows) == 0 {
		return nil, "", nil
	}
	if len(rows) > 1 {
		log.Warn().Str("table", table).Str("id", id).Int("matches", len(rows)).Msg("identity-field lookup matched more than one document")
	}

	row := rows[0]
	ev, ok := event.FromCommittedRevision(row, table)
	if !ok {
		return nil, "", apperr.NewFail(table, id, "malformed committed revision", nil)
	}

	meta, _ := row["metadata"].(map[string]any)
	rid, _ := meta["id"].(string)
	return &ev, rid, nil
}
