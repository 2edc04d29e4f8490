// Package notify delivers document and approval events to per-org
// webhooks through a buffered queue and a background worker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is one webhook delivery. URLs are resolved by the caller at
// enqueue time so the worker never touches the database.
type Event struct {
	Kind       string         `json:"event"`
	OrgID      string         `json:"orgId"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`

	urls []string
}

// Config tunes queue depth and delivery behavior
type Config struct {
	QueueSize  int
	MaxRetries int
	Timeout    time.Duration
}

// Notifier queues events and delivers them asynchronously. Enqueue never
// blocks request handlers; a full queue drops the event and logs it.
type Notifier struct {
	cfg    Config
	log    *logrus.Logger
	client *http.Client
	queue  chan Event
	done   chan struct{}

	// sleep is swapped out in tests to avoid real backoff waits
	sleep func(time.Duration)
}

// New creates a notifier and starts its delivery worker
func New(cfg Config, log *logrus.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	n := &Notifier{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		sleep:  time.Sleep,
	}
	go n.run()
	return n
}

// Enqueue queues an event for delivery to the given URLs. Events with no
// destination are discarded silently.
func (n *Notifier) Enqueue(event Event, urls []string) {
	if len(urls) == 0 {
		return
	}
	event.urls = urls
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	select {
	case n.queue <- event:
	default:
		n.log.WithFields(logrus.Fields{
			"event":    event.Kind,
			"resource": event.ResourceID,
		}).Warn("notify: queue full, dropping event")
	}
}

// Close stops the worker after draining queued events
func (n *Notifier) Close() {
	close(n.queue)
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.queue {
		for _, url := range event.urls {
			n.deliver(event, url)
		}
	}
}

// deliver posts one event to one URL, retrying with exponential backoff.
// Failures after the final attempt are logged and forgotten; webhook
// delivery is best effort.
func (n *Notifier) deliver(event Event, url string) {
	body, err := json.Marshal(event)
	if err != nil {
		n.log.WithError(err).Error("notify: marshal event")
		return
	}

	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			n.sleep(time.Duration(1<<attempt) * time.Second)
		}
		lastErr = n.post(url, body)
		if lastErr == nil {
			return
		}
	}

	n.log.WithFields(logrus.Fields{
		"event": event.Kind,
		"url":   url,
	}).WithError(lastErr).Error("notify: delivery failed")
}

func (n *Notifier) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
