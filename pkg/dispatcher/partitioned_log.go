package dispatcher

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/mapping"
)

// PartitionedLogChannel is the generic partitioned-log contract: process
// the whole batch, accumulate failures, and throw once at the end if any
// occurred. Concrete bindings include the Kafka consumer-group adapter in
// kafka.go.
type PartitionedLogChannel struct {
	Source BatchSource
	Mapper mapping.Mapper
	Writer EventWriter
}

func (c *PartitionedLogChannel) ProcessOnce(ctx context.Context) error {
	raws, err := c.Source.ReceiveBatch(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, raw := range raws {
		ev, ok := decodeAndTranslate(raw, c.Mapper)
		if !ok {
			log.Warn().Msg("partitioned-log: undecodable or unmapped record")
			failed++
			continue
		}
		if _, err := c.Writer.WriteEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("table", ev.Table).Str("id", ev.ID).Msg("partitioned-log: write failed")
			failed++
		}
	}
	if failed > 0 {
		return batchFailureError("partitioned-log", failed, len(raws))
	}
	return nil
}

// Run satisfies the Channel interface.
func (c *PartitionedLogChannel) Run(ctx context.Context) error { return c.ProcessOnce(ctx) }
