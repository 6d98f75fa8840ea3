package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"truck-telemetryv1/config"
	"truck-telemetryv1/internal/metrics"
	"truck-telemetryv1/internal/model"
)

// Bus topics, one per event variant.
const (
	TopicGPS    = "topic-gps-218"
	TopicSensor = "topic-sensor-218"
	TopicLoad   = "topic-load-218"
)

// Consumer runs the Kafka consume loop and dispatches records to the
// handlers. Offsets are committed per record, only after the handler
// succeeds, so a crash replays rather than loses messages; the compound-key
// upserts absorb the replays.
type Consumer struct {
	client   *kgo.Client
	handlers *Handlers
	metrics  *metrics.Metrics
}

// NewConsumer builds the Kafka client from config and wires the handlers.
func NewConsumer(cfg *config.Config, h *Handlers, m *metrics.Metrics) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.KafkaServers, ",")...),
		kgo.ConsumerGroup(cfg.KafkaGroupID),
		kgo.ConsumeTopics(TopicGPS, TopicSensor, TopicLoad),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(time.Duration(cfg.KafkaSessionTimeoutMS) * time.Millisecond),
		kgo.RequestTimeoutOverhead(time.Duration(cfg.KafkaRequestTimeoutMS) * time.Millisecond),
	}

	switch cfg.KafkaAutoOffsetReset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	if strings.Contains(strings.ToUpper(cfg.KafkaSecurity), "SSL") {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if cfg.KafkaUsername != "" {
		switch strings.ToUpper(cfg.KafkaMechanism) {
		case "SCRAM-SHA-256":
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.KafkaUsername, Pass: cfg.KafkaPassword,
			}.AsSha256Mechanism()))
		case "SCRAM-SHA-512":
			opts = append(opts, kgo.SASL(scram.Auth{
				User: cfg.KafkaUsername, Pass: cfg.KafkaPassword,
			}.AsSha512Mechanism()))
		default:
			opts = append(opts, kgo.SASL(plain.Auth{
				User: cfg.KafkaUsername, Pass: cfg.KafkaPassword,
			}.AsMechanism()))
		}
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Consumer{client: client, handlers: h, metrics: m}, nil
}

// Run polls until ctx is cancelled. Each record is dispatched by topic; a
// handler failure logs, skips the commit, and moves on.
func (c *Consumer) Run(ctx context.Context) {
	log.Printf("[ingest] consuming %s, %s, %s", TopicGPS, TopicSensor, TopicLoad)
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, p int32, err error) {
			log.Printf("[ingest] fetch error on %s/%d: %v", topic, p, err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			if c.metrics != nil {
				c.metrics.MessagesConsumed.WithLabelValues(rec.Topic).Inc()
			}
			if err := c.dispatch(ctx, rec); err != nil {
				log.Printf("[ingest] handler failed on %s: %v", rec.Topic, err)
				if c.metrics != nil {
					c.metrics.HandlerErrors.WithLabelValues(rec.Topic).Inc()
				}
				return
			}
			if err := c.client.CommitRecords(ctx, rec); err != nil {
				log.Printf("[ingest] commit failed on %s: %v", rec.Topic, err)
			}
		})
	}
}

func (c *Consumer) dispatch(ctx context.Context, rec *kgo.Record) error {
	switch rec.Topic {
	case TopicGPS:
		var m model.GPSMessage
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return fmt.Errorf("gps decode: %w", err)
		}
		return c.handlers.DispatchGPS(ctx, &m)
	case TopicSensor:
		var m model.SensorMessage
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return fmt.Errorf("sensor decode: %w", err)
		}
		return c.handlers.HandleSensor(ctx, &m)
	case TopicLoad:
		var m model.LoadMessage
		if err := json.Unmarshal(rec.Value, &m); err != nil {
			return fmt.Errorf("load decode: %w", err)
		}
		return c.handlers.HandleLoad(ctx, &m)
	default:
		return fmt.Errorf("unexpected topic %s", rec.Topic)
	}
}

// Close leaves the consumer group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
