package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/metrics"
	"liqflow/logger"
)

// Discord is a one-way, best-effort notifier posting to a webhook. Messages
// travel through a bounded queue consumed by a single worker; when the queue
// is full the message is dropped and counted rather than blocking the caller.
type Discord struct {
	cfg     *appconfig.Config
	client  *http.Client
	queue   chan message
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log
}

type message struct {
	tag       string
	lines     []string
	highlight bool
}

func NewDiscord(cfg *appconfig.Config) *Discord {
	timeout := time.Duration(cfg.Notify.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	size := cfg.Notify.QueueSize
	if size <= 0 {
		size = 32
	}
	return &Discord{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan message, size),
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the delivery worker. A disabled notifier starts nothing and
// turns Notify into a no-op.
func (d *Discord) Start(ctx context.Context) error {
	if !d.cfg.Notify.Enabled {
		d.log.WithComponent("notify").Info("notifications disabled")
		return nil
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("Discord notifier already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	d.wg.Add(1)
	go d.worker()
	d.log.WithComponent("notify").Info("notification worker started")
	return nil
}

// Stop waits for the worker to finish. Queued messages that were not yet
// delivered when the context was cancelled are discarded.
func (d *Discord) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()
	if !running {
		return
	}
	d.wg.Wait()
	d.log.WithComponent("notify").Info("notification worker stopped")
}

// Notify enqueues a message without blocking. Full queue drops the message
// and emits a drop metric so backpressure stays observable.
func (d *Discord) Notify(tag string, messages []string, highlight bool) {
	if !d.cfg.Notify.Enabled {
		return
	}
	select {
	case d.queue <- message{tag: tag, lines: messages, highlight: highlight}:
	default:
		d.log.WithComponent("notify").WithFields(logger.Fields{"tag": tag}).Warn("notification queue full, dropping message")
		metrics.EmitDropMetric(d.log, metrics.DropMetricNotification, "notify", tag)
	}
}

func (d *Discord) worker() {
	defer d.wg.Done()
	log := d.log.WithComponent("notify").WithFields(logger.Fields{"worker": "discord"})

	for {
		select {
		case <-d.ctx.Done():
			return
		case msg := <-d.queue:
			if err := d.post(msg); err != nil {
				log.WithError(err).Warn("failed to deliver notification")
			}
		}
	}
}

func (d *Discord) post(msg message) error {
	content := fmt.Sprintf("**%s**\n```\n%s\n```", msg.tag, strings.Join(msg.lines, "\n"))
	if msg.highlight && d.cfg.Notify.AtEveryone {
		content = "@everyone\n" + content
	}

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, d.cfg.Notify.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered status %d", resp.StatusCode)
	}
	return nil
}
