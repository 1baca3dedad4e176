// Package alerts publishes zone alert transitions to Kafka so downstream
// consumers (dashboards, notification services) can react without polling
// the live state. The sink is optional: with no brokers configured every
// call is a no-op.
package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/crowdsight/crowd-density-server/internal/logger"
)

// Event is one zone alert transition. Raised is true when the zone count
// first reaches its threshold and false when it drops back below.
type Event struct {
	StreamID  string  `json:"stream_id"`
	ZoneID    string  `json:"zone_id"`
	Count     int     `json:"count"`
	Raised    bool    `json:"raised"`
	Timestamp float64 `json:"ts"`
}

// Sink delivers alert events. Implementations must tolerate being called
// from every stream worker concurrently.
type Sink interface {
	Notify(ev Event)
	Close()
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Notify(Event) {}
func (NoopSink) Close()       {}

// KafkaSink publishes events to a single topic, keyed by stream so a
// stream's transitions stay ordered within a partition.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	log      *logger.Logger
}

// NewKafkaSink connects a producer to the given brokers. An empty broker
// list returns a NoopSink.
func NewKafkaSink(brokers, topic string, log *logger.Logger) (Sink, error) {
	if brokers == "" {
		return NoopSink{}, nil
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	s := &KafkaSink{producer: p, topic: topic, log: log}
	go s.drainEvents()
	return s, nil
}

// drainEvents consumes delivery reports so the producer's event queue never
// fills. Failures are logged; alerting is best-effort by design of the
// counting path, which must never stall on the sink.
func (s *KafkaSink) drainEvents() {
	for e := range s.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			s.log.Warn("Alerts", "delivery failed: %v", m.TopicPartition.Error)
		}
	}
}

func (s *KafkaSink) Notify(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("Alerts", "marshal event: %v", err)
		return
	}
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.StreamID),
		Value:          payload,
	}, nil)
	if err != nil {
		s.log.Warn("Alerts", "produce: %v", err)
	}
}

func (s *KafkaSink) Close() {
	s.producer.Flush(3000)
	s.producer.Close()
}

// Tracker derives transition events from successive per-zone alert flags.
// It belongs to a single stream worker and is not safe for concurrent use.
type Tracker struct {
	streamID string
	sink     Sink
	active   map[string]bool
}

// NewTracker creates a tracker that reports through the given sink.
func NewTracker(streamID string, sink Sink) *Tracker {
	return &Tracker{streamID: streamID, sink: sink, active: make(map[string]bool)}
}

// Observe compares a zone's current alert flag with its previous state and
// emits an event on every edge.
func (t *Tracker) Observe(zoneID string, count int, alert bool) {
	if t.active[zoneID] == alert {
		return
	}
	t.active[zoneID] = alert
	t.sink.Notify(Event{
		StreamID: t.streamID,
		ZoneID:   zoneID,
		Count:    count,
		Raised:   alert,
	})
}
