// Package publish forwards file events to message brokers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/nats-io/nats.go"

	"github.com/filedrop/filedrop/internal/journal"
	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/pkg/types"
)

const (
	streamName = "FILEDROP_EVENTS"
	syncBatch  = 100
)

// Message is the JSON payload published for each file event.
type Message struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Host       string    `json:"host"`
	ModifiedAt time.Time `json:"modified_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMessage builds the broker payload for ev.
func NewMessage(ev types.FileEvent, host string) Message {
	return Message{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Name:       ev.Name,
		Size:       ev.Size,
		Host:       host,
		ModifiedAt: ev.ModifiedAt,
		Timestamp:  ev.DetectedAt,
	}
}

type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// JournalPublisher drains unsynced journal rows to NATS JetStream every two
// seconds and marks them synced once JetStream acknowledges them.
type JournalPublisher struct {
	nc      *nats.Conn
	js      jetStream
	store   journal.Store
	subject string
	host    string
	logger  log.Logger
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewJournalPublisher connects to NATS and ensures the event stream exists.
func NewJournalPublisher(natsURL, subject string, store journal.Store, logger log.Logger) (*JournalPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("filedrop"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	logger = log.With(logger, "component", "nats")
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		// Stream may already exist.
		level.Debug(logger).Log("msg", "stream setup", "err", err)
	}

	p := newJournalPublisher(js, store, subject, logger)
	p.nc = nc
	return p, nil
}

func newJournalPublisher(js jetStream, store journal.Store, subject string, logger log.Logger) *JournalPublisher {
	host, _ := os.Hostname()
	return &JournalPublisher{
		js:      js,
		store:   store,
		subject: subject,
		host:    host,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start begins the sync loop.
func (p *JournalPublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.syncEvents(context.Background())
			case <-p.stop:
				// Final flush
				p.syncEvents(context.Background())
				return
			}
		}
	}()
}

// Stop stops the sync loop and closes the NATS connection.
func (p *JournalPublisher) Stop() {
	close(p.stop)
	p.wg.Wait()
	if p.nc != nil {
		p.nc.Close()
	}
}

func (p *JournalPublisher) syncEvents(ctx context.Context) int {
	events, err := p.store.Unsynced(ctx, syncBatch)
	if err != nil {
		level.Warn(p.logger).Log("msg", "read unsynced events", "err", err)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	synced := make([]int64, 0, len(events))
	for _, ev := range events {
		data, _ := json.Marshal(NewMessage(ev, p.host))
		subject := p.subject + "." + string(ev.Type)
		if _, err := p.js.Publish(subject, data); err != nil {
			level.Warn(p.logger).Log("msg", "publish failed", "name", ev.Name, "err", err)
			metrics.SinkErrorsTotal.WithLabelValues("nats").Inc()
			continue
		}
		synced = append(synced, ev.ID)
	}

	if err := p.store.MarkSynced(ctx, synced); err != nil {
		level.Warn(p.logger).Log("msg", "mark synced failed", "err", err)
		return 0
	}
	metrics.PublishedEventsTotal.WithLabelValues("nats").Add(float64(len(synced)))
	if len(synced) > 0 {
		level.Debug(p.logger).Log("msg", "synced events to NATS", "count", len(synced))
	}
	return len(synced)
}
