package writer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/apperr"
	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/ledger"
	"github.com/ledgerapply/loadapplier/pkg/metrics"
)

// backLinkWriter is the default Writer strategy. Every document it writes
// carries field (default "oldDocumentId") in its data, set to the Event's
// ID, so the current revision can be found again later by a data query
// rather than by the ledger's own internal document id — the event's ID
// is treated as a caller-supplied logical key, not the ledger's rid.
type backLinkWriter struct {
	core
	field string
}

func (w *backLinkWriter) WriteEvent(ctx context.Context, ev event.Event) (ValidationResult, error) {
	if !ev.IsValid() {
		return ValidationResult{Event: ev, Decision: Failed, Reason: "invalid event"},
			apperr.NewFail(ev.Table, ev.ID, "invalid event", nil)
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
		d, r, err := w.applyOne(ctx, txn, ev, active)
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

func (w *backLinkWriter) WriteEvents(ctx context.Context, evs []event.Event) ([]ValidationResult, error) {
	return writeBatchSequential(ctx, &w.core, evs, w.applyOne)
}

// applyOne classifies ev against the current revision and, if Applied,
// issues its write statement — the body shared by both a single-event
// transaction (WriteEvent) and a shared batch transaction (WriteEvents).
func (w *backLinkWriter) applyOne(ctx context.Context, txn ledger.Transaction, ev event.Event, active bool) (Decision, string, error) {
	current, rid, err := w.fetchCurrent(ctx, txn, ev.Table, ev.ID)
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
		doc := stampBackLink(ev.Revision, w.field, ev.ID)
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("INSERT INTO %s VALUE ?", ev.Table), doc)
	case event.Update:
		doc := stampBackLink(ev.Revision, w.field, ev.ID)
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("UPDATE %s AS d BY rid SET d = ? WHERE rid = ?", ev.Table), doc, rid)
	case event.Delete:
		return Applied, "", txn.Exec(ctx, fmt.Sprintf("DELETE FROM %s BY rid WHERE rid = ?", ev.Table), rid)
	default:
		return Failed, fmt.Sprintf("unhandled operation %q", op), nil
	}
}

// fetchCurrent returns the current Event for id (or nil if none exists)
// along with the ledger's own document id (rid) for that row, needed to
// target the UPDATE/DELETE statement precisely.
func (w *backLinkWriter) fetchCurrent(ctx context.Context, txn ledger.Transaction, table, id string) (*event.Event, string, error) {
	stmt := fmt.Sprintf("SELECT * FROM _ql_committed_%s WHERE data.%s = ?", table, w.field)
	rows, err := txn.Query(ctx, stmt, id)
	if err != nil {
		return nil, "", apperr.NewFail(table, id, "current-revision query failed", err)
	}
	if len(rows) == 0 {
		return nil, "", nil
	}
	if len(rows) > 1 {
		log.Warn().Str("table", table).Str("id", id).Int("matches", len(rows)).Msg("back-link lookup matched more than one document")
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

func stampBackLink(revision map[string]any, field, id string) map[string]any {
	doc := make(map[string]any, len(revision)+1)
	for k, v := range revision {
		doc[k] = v
	}
	doc[field] = id
	return doc
}

func logDecision(r ValidationResult) {
	switch r.Decision {
	case Applied:
		log.Debug().Str("table", r.Event.Table).Str("id", r.Event.ID).Msg("applied")
	case Skipped:
		log.Info().Str("table", r.Event.Table).Str("id", r.Event.ID).Str("reason", r.Reason).Msg("skipped")
	case Failed:
		log.Warn().Str("table", r.Event.Table).Str("id", r.Event.ID).Str("reason", r.Reason).Msg("failed")
	}
	metrics.RecordDecision(context.Background(), r.Event.Table, string(r.Decision))
}
