package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "liqflow/config"
)

func notifyConfig(url string) *appconfig.Config {
	return &appconfig.Config{
		Notify: appconfig.NotifyConfig{
			Enabled:    true,
			WebhookURL: url,
			QueueSize:  4,
			AtEveryone: true,
			TimeoutMs:  2000,
		},
	}
}

func TestDiscord_DeliversMessage(t *testing.T) {
	var mu sync.Mutex
	var contents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		mu.Lock()
		contents = append(contents, payload["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDiscord(notifyConfig(srv.URL))
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d.Notify("trades", []string{"live long BTCUSDT", "filled 1.0 of 1.0 @ 50000.0"}, true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(contents)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notification never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	d.Stop()

	mu.Lock()
	content := contents[0]
	mu.Unlock()
	if !strings.HasPrefix(content, "@everyone") {
		t.Fatalf("expected highlight mention, got %q", content)
	}
	if !strings.Contains(content, "**trades**") || !strings.Contains(content, "live long BTCUSDT") {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestDiscord_FullQueueDropsWithoutBlocking(t *testing.T) {
	cfg := notifyConfig("http://127.0.0.1:1") // never started, queue never drains
	cfg.Notify.QueueSize = 2
	d := NewDiscord(cfg)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify("trades", []string{"msg"}, false)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Notify blocked on a full queue")
	}
	if len(d.queue) != 2 {
		t.Fatalf("expected queue capped at 2, got %d", len(d.queue))
	}
}

func TestDiscord_DisabledIsNoOp(t *testing.T) {
	cfg := notifyConfig("http://127.0.0.1:1")
	cfg.Notify.Enabled = false
	d := NewDiscord(cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Notify("trades", []string{"msg"}, false)
	if len(d.queue) != 0 {
		t.Fatalf("disabled notifier must not enqueue")
	}
	d.Stop()
}
