package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"

	"github.com/gorilla/websocket"
)

const (
	bookTickerReadWait = 90 * time.Second
	bookTickerPingWait = 30 * time.Second
)

// BookTickerStream mirrors the best bid and ask of one futures symbol over the
// public websocket. If the connection drops it is re-established automatically
// until the context is cancelled. Consumers read the latest quote through
// Latest and decide for themselves how much staleness they tolerate.
type BookTickerStream struct {
	config  *appconfig.Config
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	tickMu sync.RWMutex
	tick   models.Ticker
	tickAt time.Time
}

type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

func NewBookTickerStream(cfg *appconfig.Config) *BookTickerStream {
	return &BookTickerStream{
		config: cfg,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start connects to the book-ticker stream for the configured symbol.
func (s *BookTickerStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("BookTickerStream already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("book_ticker").WithFields(logger.Fields{"operation": "Start"})

	streamURL := fmt.Sprintf("%s/%s@bookTicker",
		strings.TrimRight(s.config.Exchange.BookTickerURL, "/"),
		strings.ToLower(s.config.Exchange.Symbol))

	log.WithFields(logger.Fields{"url": streamURL}).Info("starting book ticker stream")
	s.wg.Add(1)
	go s.stream(streamURL)
	return nil
}

// Stop terminates the websocket subscription and waits for the goroutine to
// finish.
func (s *BookTickerStream) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.WithComponent("book_ticker").Info("stopping book ticker stream")
	s.wg.Wait()
	s.log.WithComponent("book_ticker").Info("book ticker stream stopped")
}

// Latest returns the most recent quote, its receive time, and whether any
// quote has been received since startup.
func (s *BookTickerStream) Latest() (models.Ticker, time.Time, bool) {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	return s.tick, s.tickAt, !s.tickAt.IsZero()
}

// stream handles the websocket lifecycle, reconnection and quote updates.
func (s *BookTickerStream) stream(streamURL string) {
	defer s.wg.Done()
	log := s.log.WithComponent("book_ticker").WithFields(logger.Fields{"worker": "ticker_stream"})

	for {
		if s.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(streamURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		conn.SetReadDeadline(time.Now().Add(bookTickerReadWait))
		// the venue pings periodically; answering extends the deadline
		conn.SetPingHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(bookTickerReadWait))
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(bookTickerPingWait))
		})

		done := make(chan struct{})
		go func() {
			select {
			case <-done:
			case <-s.ctx.Done():
				conn.Close()
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if s.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("websocket read error, reconnecting")
				goto RECONNECT
			}
			conn.SetReadDeadline(time.Now().Add(bookTickerReadWait))
			s.processMessage(msg)
		}

	RECONNECT:
		time.Sleep(time.Second)
	}
}

func (s *BookTickerStream) processMessage(msg []byte) {
	var evt bookTickerEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.log.WithComponent("book_ticker").WithError(err).Debug("failed to decode message")
		return
	}
	if evt.Bid == "" || evt.Ask == "" {
		return
	}

	bid, err := strconv.ParseFloat(evt.Bid, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(evt.Ask, 64)
	if err != nil {
		return
	}

	s.tickMu.Lock()
	s.tick = models.Ticker{Bid: bid, Ask: ask}
	s.tickAt = time.Now()
	s.tickMu.Unlock()
}
