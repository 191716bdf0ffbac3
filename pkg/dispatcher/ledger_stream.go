package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/event"
)

// LedgerStreamChannel is the partitioned-log ledger-stream contract: a
// de-aggregated batch of the ledger's own committed-revision records. It
// filters on recordType == "REVISION_DETAILS" (the ledger's own stream
// also emits block-summary records this module has no use for) and
// bypasses the Mapper entirely (Design Notes #4) since the records are
// already in the ledger's own schema.
type LedgerStreamChannel struct {
	Source BatchSource
	Writer EventWriter
}

type ledgerStreamRecord struct {
	RecordType string         `json:"recordType"`
	TableName  string         `json:"tableName"`
	Revision   map[string]any `json:"revision"`
}

func (c *LedgerStreamChannel) ProcessOnce(ctx context.Context) error {
	raws, err := c.Source.ReceiveBatch(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, raw := range raws {
		var rec ledgerStreamRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.RecordType != "REVISION_DETAILS" {
			continue
		}

		ev, ok := event.FromCommittedRevision(rec.Revision, rec.TableName)
		if !ok {
			log.Warn().Str("table", rec.TableName).Msg("ledger-stream: malformed revision record")
			failed++
			continue
		}
		if _, err := c.Writer.WriteEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("table", ev.Table).Str("id", ev.ID).Msg("ledger-stream: write failed")
			failed++
		}
	}
	if failed > 0 {
		return batchFailureError("ledger-stream", failed, len(raws))
	}
	return nil
}

// Run satisfies the Channel interface.
func (c *LedgerStreamChannel) Run(ctx context.Context) error { return c.ProcessOnce(ctx) }
