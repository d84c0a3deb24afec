// Package ingest upserts vector records streamed through a Kafka topic.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Upserter writes records to one index.
type Upserter interface {
	Upsert(ctx context.Context, records []vectorstore.Record, namespace string) (int, error)
}

// Message is the JSON payload of one Kafka message.
type Message struct {
	ID        string               `json:"id"`
	Values    []float32            `json:"values"`
	Metadata  vectorstore.Metadata `json:"metadata,omitempty"`
	Namespace string               `json:"namespace,omitempty"`
}

// NewKafkaReader creates a consumer-group reader for cfg.Topic.
func NewKafkaReader(cfg config.IngestConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Stats counts what a consumer has processed.
type Stats struct {
	Upserted int64
	Skipped  int64
	Flushes  int64
}

// Consumer batches messages and upserts them. Offsets are committed only
// after every record fetched before them has been written.
type Consumer struct {
	reader        Reader
	index         Upserter
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	pending []kafka.Message
	records map[string][]vectorstore.Record
	count   int
	stats   Stats
}

func NewConsumer(reader Reader, index Upserter, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Consumer {
	if batchSize <= 0 {
		batchSize = 128
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:        reader,
		index:         index,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		records:       map[string][]vectorstore.Record{},
	}
}

// Stats returns counters accumulated so far. Not safe to call while Run is
// active.
func (c *Consumer) Stats() Stats { return c.stats }

type fetched struct {
	msg kafka.Message
	err error
}

// Run consumes until ctx is cancelled or an upsert fails. Buffered records
// are flushed on a clean stop.
func (c *Consumer) Run(ctx context.Context) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs := make(chan fetched)
	go func() {
		defer close(msgs)
		for {
			m, err := c.reader.FetchMessage(fetchCtx)
			select {
			case msgs <- fetched{msg: m, err: err}:
			case <-fetchCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.drain()
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				return err
			}
		case f, ok := <-msgs:
			if !ok {
				return c.drain()
			}
			if f.err != nil {
				if ctx.Err() != nil {
					return c.drain()
				}
				_ = c.drain()
				return fmt.Errorf("fetch message: %w", f.err)
			}
			c.add(f.msg)
			if c.count >= c.batchSize {
				if err := c.flush(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// drain flushes what is buffered with a short detached deadline.
func (c *Consumer) drain() error {
	if len(c.pending) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.flush(ctx)
}

func (c *Consumer) add(m kafka.Message) {
	c.pending = append(c.pending, m)
	rec, ns, err := decode(m.Value)
	if err != nil {
		c.stats.Skipped++
		c.logger.Warn("ingest: skipping malformed message",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		return
	}
	c.records[ns] = append(c.records[ns], rec)
	c.count++
}

func decode(value []byte) (vectorstore.Record, string, error) {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		return vectorstore.Record{}, "", err
	}
	if strings.TrimSpace(m.ID) == "" {
		return vectorstore.Record{}, "", errors.New("missing id")
	}
	if len(m.Values) == 0 {
		return vectorstore.Record{}, "", errors.New("missing values")
	}
	return vectorstore.Record{ID: m.ID, Values: m.Values, Metadata: m.Metadata}, m.Namespace, nil
}

func (c *Consumer) flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	for ns, recs := range c.records {
		n, err := c.upsert(ctx, dedupe(recs), ns)
		if err != nil {
			return fmt.Errorf("upsert namespace %q: %w", ns, err)
		}
		c.stats.Upserted += int64(n)
		delete(c.records, ns)
	}
	if err := c.reader.CommitMessages(ctx, c.pending...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	c.logger.Debug("ingest: flushed", "messages", len(c.pending), "records", c.count)
	c.stats.Flushes++
	c.pending = c.pending[:0]
	c.count = 0
	return nil
}

// upsert writes recs. A batch rejected as invalid is retried record by
// record so one bad record cannot block the partition.
func (c *Consumer) upsert(ctx context.Context, recs []vectorstore.Record, ns string) (int, error) {
	n, err := c.index.Upsert(ctx, recs, ns)
	if err == nil || !rejected(err) {
		return n, err
	}
	total := 0
	for _, r := range recs {
		n, err := c.index.Upsert(ctx, []vectorstore.Record{r}, ns)
		switch {
		case err == nil:
			total += n
		case rejected(err):
			c.stats.Skipped++
			c.logger.Warn("ingest: skipping rejected record", "id", r.ID, "namespace", ns, "error", err)
		default:
			return total, err
		}
	}
	return total, nil
}

func rejected(err error) bool {
	return errors.Is(err, vectorstore.ErrInvalidArgument) || errors.Is(err, vectorstore.ErrDimensionMismatch)
}

// dedupe keeps the last record for each id.
func dedupe(recs []vectorstore.Record) []vectorstore.Record {
	last := make(map[string]int, len(recs))
	for i, r := range recs {
		last[r.ID] = i
	}
	if len(last) == len(recs) {
		return recs
	}
	out := make([]vectorstore.Record, 0, len(last))
	for i, r := range recs {
		if last[r.ID] == i {
			out = append(out, r)
		}
	}
	return out
}
