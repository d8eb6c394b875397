package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink forwards events to a topic keyed by ride ID so a ride's events
// stay on one partition and keep their order. Each Write waits for the
// broker, so register it with Bus.AddQueuedSink.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaSink{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaSink) Write(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := e.RideID
	if key == "" {
		key = e.ParticipantID
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
