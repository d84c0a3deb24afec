package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ratlabs/vecstore/internal/config"
	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// Writer is the subset of *kafka.Writer Publish needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a synchronous writer for cfg.Topic. Messages are
// keyed by record ID so updates to one ID stay on one partition.
func NewKafkaWriter(cfg config.IngestConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// Publish encodes records as upsert messages and writes them in chunks of
// batchSize. It returns the number of messages written.
func Publish(ctx context.Context, w Writer, records []vectorstore.Record, namespace string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 128
	}
	written := 0
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		msgs := make([]kafka.Message, 0, end-start)
		for _, r := range records[start:end] {
			if strings.TrimSpace(r.ID) == "" {
				return written, errors.New("publish: record without id")
			}
			value, err := json.Marshal(Message{ID: r.ID, Values: r.Values, Metadata: r.Metadata, Namespace: namespace})
			if err != nil {
				return written, fmt.Errorf("encode record %s: %w", r.ID, err)
			}
			msgs = append(msgs, kafka.Message{Key: []byte(r.ID), Value: value})
		}
		if err := w.WriteMessages(ctx, msgs...); err != nil {
			return written, fmt.Errorf("write messages: %w", err)
		}
		written += len(msgs)
	}
	return written, nil
}

// TopicInfo summarizes a topic as seen from one broker.
type TopicInfo struct {
	Broker     string
	Partitions int
	Leaders    int
}

// CheckTopic dials the first reachable broker and reports the partitions of
// topic. It fails when no broker answers or the topic is unknown.
func CheckTopic(ctx context.Context, brokers, topic string, timeout time.Duration) (TopicInfo, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return TopicInfo{}, errors.New("no brokers configured")
	}
	var errs []error
	for _, addr := range addrs {
		info, err := checkBroker(ctx, addr, topic, timeout)
		if err == nil {
			return info, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return TopicInfo{}, errors.Join(errs...)
}

func checkBroker(ctx context.Context, addr, topic string, timeout time.Duration) (TopicInfo, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	dialer := &kafka.Dialer{Timeout: timeout, DualStack: true}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return TopicInfo{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return TopicInfo{}, fmt.Errorf("read partitions: %w", err)
	}
	info := TopicInfo{Broker: addr}
	for _, p := range parts {
		if p.Topic != topic {
			continue
		}
		info.Partitions++
		if p.Leader.Host != "" {
			info.Leaders++
		}
	}
	if info.Partitions == 0 {
		return TopicInfo{}, fmt.Errorf("topic %q not found", topic)
	}
	return info, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(b); err != nil {
			b = net.JoinHostPort(b, "9092")
		}
		out = append(out, b)
	}
	return out
}
