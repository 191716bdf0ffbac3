package dispatcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/mapping"
)

// CDCChannel is the partitioned-log CDC contract: per-record, throws on
// first failure, filters out DMS-style control records (task-status
// markers interleaved with data records on the same stream), and forces
// Version = 0 on every INSERT since the upstream CDC tooling does not
// carry the ledger's own versioning scheme. Its operation field uses its
// own lowercase vocabulary ("load"/"insert"/"update"/"delete") rather than
// the canonical one other Mapper-backed channels expect; an operation
// outside that vocabulary is skipped with a warning, not treated as an
// error, mirroring the original DMS record receiver.
type CDCChannel struct {
	Source RecordSource
	Mapper mapping.Mapper
	Writer EventWriter
}

const dmsControlRecordType = "control"

func (c *CDCChannel) ProcessOnce(ctx context.Context) error {
	raw, err := c.Source.Receive(ctx)
	if err != nil {
		return err
	}

	rec, ok := decodeForeign(raw)
	if !ok {
		return fmt.Errorf("cdc: undecodable record")
	}
	if rec.RecordType == dmsControlRecordType {
		return nil
	}

	op, ok := parseCDCOperation(rec.Operation)
	if !ok {
		log.Warn().Str("table", rec.Table).Str("op", rec.Operation).Msg("cdc: unrecognized operation, skipping record")
		return nil
	}

	targetTable, ok := c.Mapper.MapTableName(rec.Table)
	if !ok {
		return fmt.Errorf("cdc: unmapped record for table %q", rec.Table)
	}

	ev := buildEvent(rec, c.Mapper, targetTable, op)
	if ev.Operation == event.Insert {
		ev.Version = 0
	}

	_, err = c.Writer.WriteEvent(ctx, ev)
	return err
}

// Run satisfies the Channel interface.
func (c *CDCChannel) Run(ctx context.Context) error { return c.ProcessOnce(ctx) }
