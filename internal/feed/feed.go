// Package feed maintains the WebSocket market data link for one symbol.
//
// The feed subscribes to the ticker and 1m candle channels, deduplicates
// unchanged prices and fans ticks out to subscribers. On socket errors it
// reconnects with exponential backoff (2s doubling to 30s); after six
// consecutive failures it declares the link severed and goes degraded, at
// which point consumers must fall back to REST polling.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxFailures    = 6

	keepaliveInterval = 20 * time.Second
	writeTimeout      = 10 * time.Second
	readTimeout       = 60 * time.Second
)

// Tick is one price update delivered to subscribers.
type Tick struct {
	Symbol string
	Price  float64
	Bid    float64
	Ask    float64
	Ts     time.Time
}

// Feed is the WebSocket market data source for one symbol.
type Feed struct {
	url    string
	symbol string
	log    zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxFailures    int

	connMu sync.Mutex
	conn   *websocket.Conn

	latest   atomic.Pointer[Tick]
	degraded atomic.Bool

	subsMu  sync.Mutex
	subs    map[int]func(Tick)
	nextSub int

	// lastPrice is owned by the read loop; used for duplicate suppression.
	lastPrice float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a Feed. Zero durations and counts take the defaults.
type Options struct {
	URL            string
	Symbol         string
	Logger         zerolog.Logger
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxFailures    int
}

// New creates a feed. It does not connect until Start.
func New(opts Options) *Feed {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxFailures
	}
	return &Feed{
		url:            opts.URL,
		symbol:         opts.Symbol,
		log:            opts.Logger.With().Str("component", "feed").Str("symbol", opts.Symbol).Logger(),
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		maxFailures:    opts.MaxFailures,
		subs:           make(map[int]func(Tick)),
	}
}

// Latest returns the most recent tick, or nil before the first frame.
func (f *Feed) Latest() *Tick {
	return f.latest.Load()
}

// Degraded reports whether the feed has given up reconnecting.
func (f *Feed) Degraded() bool {
	return f.degraded.Load()
}

// Subscribe registers a tick callback and returns a cancellation function.
// Subscribers only see ticks that arrive after registration.
func (f *Feed) Subscribe(fn func(Tick)) func() {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		delete(f.subs, id)
	}
}

// Start launches the connection loop.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
	f.wg.Wait()
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	backoff := f.initialBackoff
	failures := 0

	for {
		gotFrames, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		if gotFrames {
			failures = 0
			backoff = f.initialBackoff
		}
		failures++

		if failures >= f.maxFailures {
			f.degraded.Store(true)
			f.log.Error().
				Int("failures", failures).
				Msg("Market data link severed, feed degraded")
			return
		}

		f.log.Warn().
			Err(err).
			Int("failures", failures).
			Dur("backoff", backoff).
			Msg("WebSocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > f.maxBackoff {
			backoff = f.maxBackoff
		}
	}
}

// connectAndRead dials, subscribes and reads frames until the socket fails.
// It reports whether any data frame was processed on this connection.
func (f *Feed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info().Str("url", f.url).Msg("WebSocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.keepalive(pingCtx)

	gotFrames := false
	for {
		if ctx.Err() != nil {
			return gotFrames, ctx.Err()
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return gotFrames, fmt.Errorf("read: %w", err)
		}

		if f.handleFrame(msg) {
			gotFrames = true
		}
	}
}

// subscribeArg is one channel subscription.
type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

// wsRequest is the op envelope for subscribe requests.
type wsRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

func (f *Feed) subscribe() error {
	req := wsRequest{
		Op: "subscribe",
		Args: []subscribeArg{
			{InstType: "mc", Channel: "ticker", InstID: f.symbol},
			{InstType: "mc", Channel: "candle1m", InstID: f.symbol},
		},
	}
	return f.writeJSON(req)
}

func (f *Feed) keepalive(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("ping")); err != nil {
				f.log.Warn().Err(err).Msg("Keepalive write failed")
				return
			}
		}
	}
}

// pushFrame is the venue's data push envelope.
type pushFrame struct {
	Action string `json:"action"`
	Arg    struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
	// Event acknowledges subscribe requests.
	Event string `json:"event"`
}

// tickerData is one ticker push entry. All numbers arrive as strings.
type tickerData struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	Ts      string `json:"ts"`
}

// handleFrame parses one frame and reports whether it carried data. Parse
// errors drop the frame.
func (f *Feed) handleFrame(msg []byte) bool {
	if string(msg) == "pong" {
		return false
	}
	if string(msg) == "ping" {
		if err := f.writeMessage(websocket.TextMessage, []byte("pong")); err != nil {
			f.log.Warn().Err(err).Msg("Pong reply failed")
		}
		return false
	}

	var frame pushFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return false
	}
	if frame.Event != "" || len(frame.Data) == 0 {
		return false
	}

	switch frame.Arg.Channel {
	case "ticker":
		f.handleTicker(frame.Data)
	case "candle1m":
		f.handleCandle(frame.Data)
	default:
		return false
	}
	return true
}

func (f *Feed) handleTicker(data json.RawMessage) {
	var entries []tickerData
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	for _, e := range entries {
		price, err := strconv.ParseFloat(e.Last, 64)
		if err != nil || price <= 0 {
			continue
		}
		bid, _ := strconv.ParseFloat(e.BestBid, 64)
		ask, _ := strconv.ParseFloat(e.BestAsk, 64)
		f.emit(price, bid, ask, parseMillis(e.Ts))
	}
}

// handleCandle folds intrabar candle closes into the same tick path; the
// duplicate filter absorbs overlap with the ticker channel.
func (f *Feed) handleCandle(data json.RawMessage) {
	var bars [][]string
	if err := json.Unmarshal(data, &bars); err != nil {
		return
	}
	for _, bar := range bars {
		if len(bar) < 5 {
			continue
		}
		price, err := strconv.ParseFloat(bar[4], 64)
		if err != nil || price <= 0 {
			continue
		}
		prev := f.Latest()
		var bid, ask float64
		if prev != nil {
			bid, ask = prev.Bid, prev.Ask
		}
		f.emit(price, bid, ask, parseMillis(bar[0]))
	}
}

// emit publishes a tick unless the price is unchanged.
func (f *Feed) emit(price, bid, ask float64, ts time.Time) {
	if price == f.lastPrice {
		return
	}
	f.lastPrice = price

	tick := Tick{Symbol: f.symbol, Price: price, Bid: bid, Ask: ask, Ts: ts}
	f.latest.Store(&tick)

	f.subsMu.Lock()
	fns := make([]func(Tick), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.subsMu.Unlock()

	for _, fn := range fns {
		fn(tick)
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
