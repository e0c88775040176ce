// Package pubsub mirrors delivery notifications onto a Redis channel.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 250 * time.Millisecond

var ErrQueueFull = errors.New("redis publish queue full")

// Message is the JSON payload published for each notification.
type Message struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Sequence  uint64          `json:"sequence"`
	EmittedAt time.Time       `json:"emitted_at"`
	Failure   *stats.MailInfo `json:"failure,omitempty"`
}

// Metrics is optional publish telemetry.
type Metrics interface {
	IncPublished(n int)
	IncError(n int)
	IncDropped()
}

type Config struct {
	Channel string
	// Timeout bounds each PUBLISH.
	Timeout time.Duration
	Queue   int
	Metrics Metrics
	Logger  *slog.Logger
}

// Publisher is a stats.Listener. HandleNotification only queues; a single
// goroutine PUBLISHes, so Redis latency never reaches the send path.
type Publisher struct {
	client redis.UniversalClient
	conf   Config

	q    chan []byte
	done chan struct{}
	once sync.Once
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  time.Second,
		WriteTimeout: defaultTimeout,
		ReadTimeout:  defaultTimeout,
	})
}

// NewPublisher starts the publishing goroutine. Close stops it.
func NewPublisher(client redis.UniversalClient, conf Config) *Publisher {
	if conf.Timeout <= 0 {
		conf.Timeout = defaultTimeout
	}
	if conf.Queue <= 0 {
		conf.Queue = 256
	}
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	p := &Publisher{client: client, conf: conf, q: make(chan []byte, conf.Queue), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *Publisher) HandleNotification(n stats.Notification) error {
	b, err := json.Marshal(Message{
		Type:      n.Type,
		Source:    n.Source,
		Sequence:  n.Sequence,
		EmittedAt: n.EmittedAt,
		Failure:   n.Failure,
	})
	if err != nil {
		return err
	}
	select {
	case p.q <- b:
		return nil
	default:
		if p.conf.Metrics != nil {
			p.conf.Metrics.IncDropped()
		}
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for b := range p.q {
		ctx, cancel := context.WithTimeout(context.Background(), p.conf.Timeout)
		err := p.client.Publish(ctx, p.conf.Channel, b).Err()
		cancel()
		if err != nil {
			if p.conf.Metrics != nil {
				p.conf.Metrics.IncError(1)
			}
			p.conf.Logger.Warn("redis publish failed", "channel", p.conf.Channel, "err", err)
			continue
		}
		if p.conf.Metrics != nil {
			p.conf.Metrics.IncPublished(1)
		}
	}
}

// Close publishes what is queued and stops the goroutine. The publisher
// must be unsubscribed first; the client is left open.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.q) })
	<-p.done
	return nil
}
