package exchange

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBaseURL = "wss://stream.binance.com:9443/stream"

	// A cached price older than this is considered stale and GetTicker
	// falls back to REST.
	tickerMaxAge = 30 * time.Second

	wsReconnectBase = 2 * time.Second
	wsReconnectMax  = 60 * time.Second
	wsReadTimeout   = 90 * time.Second
)

// tickerCache maintains last traded prices from the miniTicker stream.
// It reconnects with exponential backoff until the context is cancelled.
type tickerCache struct {
	symbols []string

	mu    sync.RWMutex
	last  map[string]float64
	seen  map[string]time.Time
}

func newTickerCache(symbols []string) *tickerCache {
	return &tickerCache{
		symbols: symbols,
		last:    make(map[string]float64, len(symbols)),
		seen:    make(map[string]time.Time, len(symbols)),
	}
}

// Last returns the cached price if fresh.
func (t *tickerCache) Last(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	px, ok := t.last[symbol]
	if !ok || time.Since(t.seen[symbol]) > tickerMaxAge {
		return 0, false
	}
	return px, true
}

func (t *tickerCache) streamURL() string {
	streams := make([]string, len(t.symbols))
	for i, s := range t.symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	return wsBaseURL + "?streams=" + strings.Join(streams, "/")
}

// run maintains the websocket connection until ctx is done.
func (t *tickerCache) run(ctx context.Context) {
	delay := wsReconnectBase
	for {
		if err := t.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[ticker-ws] connection lost, reconnecting in %v: %v", delay, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > wsReconnectMax {
			delay = wsReconnectMax
		}
	}
}

func (t *tickerCache) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.streamURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[ticker-ws] connected, %d symbols", len(t.symbols))

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		t.handle(raw)
	}
}

func (t *tickerCache) handle(raw []byte) {
	var msg struct {
		Data struct {
			Event  string `json:"e"`
			Symbol string `json:"s"`
			Close  string `json:"c"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Data.Event != "24hrMiniTicker" || msg.Data.Symbol == "" {
		return
	}
	px, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil {
		return
	}

	t.mu.Lock()
	t.last[msg.Data.Symbol] = px
	t.seen[msg.Data.Symbol] = time.Now()
	t.mu.Unlock()
}
