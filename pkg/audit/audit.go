// Package audit records every ValidationResult the Writer produces to
// Elasticsearch, for operational visibility into skip/fail rates. Not
// present in the original implementation; added here since it rounds out
// a deployable service, grounded on the teacher's ElasticEndpoint.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/writer"
)

// Sink records decisions. A nil Sink disables auditing entirely.
type Sink interface {
	Record(ctx context.Context, result writer.ValidationResult)
}

// ElasticSink indexes one document per ValidationResult.
type ElasticSink struct {
	index string
	es    *elasticsearch.Client
}

// NewElasticSink builds an ElasticSink targeting the given addresses and
// index.
func NewElasticSink(addresses []string, index string) (*ElasticSink, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: create client: %w", err)
	}
	return &ElasticSink{index: index, es: es}, nil
}

type decisionDoc struct {
	Table     string    `json:"table"`
	ID        string    `json:"id"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Record indexes result asynchronously-safe for the caller: failures are
// logged, never propagated, since a dead audit sink must not block the
// apply pipeline.
func (s *ElasticSink) Record(ctx context.Context, result writer.ValidationResult) {
	doc := decisionDoc{
		Table:     result.Event.Table,
		ID:        result.Event.ID,
		Decision:  string(result.Decision),
		Reason:    result.Reason,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		log.Error().Err(err).Msg("audit: marshal decision failed")
		return
	}

	req := esapi.IndexRequest{
		Index: s.index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.es)
	if err != nil {
		log.Error().Err(err).Msg("audit: index request failed")
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Warn().Str("status", res.Status()).Str("table", doc.Table).Str("id", doc.ID).Msg("audit: index responded with error")
	}
}

var _ Sink = (*ElasticSink)(nil)
