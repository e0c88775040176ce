// Package kafka publishes delivery notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"github.com/segmentio/kafka-go"
)

// Event is the wire form of a delivery notification.
type Event struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Sequence  uint64          `json:"sequence"`
	EmittedAt string          `json:"emitted_at"`
	Failure   *stats.MailInfo `json:"failure,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a stats.Listener. The writer is asynchronous, so handling a
// notification only enqueues it and never waits for the brokers.
type Publisher struct {
	W MessageWriter
}

func NewWriter(brokers []string, topic string, onComplete func(n int, err error)) *kafka.Writer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: false,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true, // async to not block the send path
	}
	if onComplete != nil {
		w.Completion = func(messages []kafka.Message, err error) {
			onComplete(len(messages), err)
		}
	}
	return w
}

// NewPublisher publishes notifications through w. Failure events carry the
// failure record of their own notification.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{W: w}
}

func (p *Publisher) HandleNotification(n stats.Notification) error {
	ev := Event{
		Type:      n.Type,
		Source:    n.Source,
		Sequence:  n.Sequence,
		EmittedAt: n.EmittedAt.UTC().Format(time.RFC3339Nano),
		Failure:   n.Failure,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.W.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(n.Source),
		Value: b,
	})
}

func (p *Publisher) Close() error { return p.W.Close() }
