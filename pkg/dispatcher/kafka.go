package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog/log"
)

// KafkaSource is a concrete BatchSource backing the generic
// PartitionedLogChannel, adapted from the teacher's KafkaStream consumer
// group handler: each ConsumeClaim callback hands its messages to a
// buffered channel that ReceiveBatch drains.
type KafkaSource struct {
	consumer sarama.ConsumerGroup
	topics   []string

	buf    chan []byte
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaSource builds a KafkaSource and starts consuming topics in the
// background under group.
func NewKafkaSource(brokers []string, group string, topics []string) (*KafkaSource, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(brokers, group, cfg)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: create kafka consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src := &KafkaSource{
		consumer: consumer,
		topics:   topics,
		buf:      make(chan []byte, 256),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go src.run(ctx)
	return src, nil
}

func (s *KafkaSource) run(ctx context.Context) {
	defer close(s.done)
	handler := &kafkaClaimHandler{buf: s.buf}
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.consumer.Consume(ctx, s.topics, handler); err != nil {
				log.Error().Err(err).Msg("dispatcher: kafka consume error")
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}
	}
}

// ReceiveBatch drains whatever is currently buffered, blocking until at
// least one record is available.
func (s *KafkaSource) ReceiveBatch(ctx context.Context) ([][]byte, error) {
	select {
	case first := <-s.buf:
		batch := [][]byte{first}
		for {
			select {
			case more := <-s.buf:
				batch = append(batch, more)
			default:
				return batch, nil
			}
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *KafkaSource) Close() error {
	s.cancel()
	<-s.done
	return s.consumer.Close()
}

type kafkaClaimHandler struct {
	buf chan []byte
}

func (h *kafkaClaimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaClaimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *kafkaClaimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.buf <- msg.Value
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

var _ BatchSource = (*KafkaSource)(nil)
