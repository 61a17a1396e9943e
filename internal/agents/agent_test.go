package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpdirector/internal/exchange"
	"perpdirector/internal/llm"
)

const testSymbol = "BTCUSDT"

// llmStub serves a fixed chat-completion reply and records request bodies.
type llmStub struct {
	server   *httptest.Server
	content  string
	status   int
	requests []llm.ChatRequest
}

func newLLMStub(content string) *llmStub {
	s := &llmStub{content: content, status: http.StatusOK}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.requests = append(s.requests, req)

		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			fmt.Fprint(w, `{"error":{"message":"boom"}}`)
			return
		}
		resp := map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": s.content}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	return s
}

func (s *llmStub) client() *llm.Client {
	return llm.NewClient(llm.ClientConfig{Endpoint: s.server.URL})
}

func (s *llmStub) close() { s.server.Close() }

func newSentimentMock() *exchange.MockClient {
	mock := exchange.NewMockClient()
	mock.SetTicker(testSymbol, &exchange.Ticker{Symbol: testSymbol, Last: 88000, Bid: 87999, Ask: 88001, Change24h: 0.02})
	mock.Funding[testSymbol] = &exchange.FundingRate{FundingRate: 0.0001}
	return mock
}

func newTestAgent(role string, mock exchange.Client, client *llm.Client) *Agent {
	return NewAgent(AgentOptions{
		Name:       role,
		Role:       role,
		Symbol:     testSymbol,
		Interval:   time.Hour,
		Exchange:   mock,
		LLM:        client,
		LLMTimeout: 2 * time.Second,
		Logger:     zerolog.Nop(),
	})
}

func TestAgentCycleStoresReport(t *testing.T) {
	stub := newLLMStub(`{"signal":"bullish","confidence":0.8,"reasoning":"funding flipped negative","data":{"funding_rate":-0.0002}}`)
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	a.cycle(context.Background())

	report := a.LatestReport()
	require.NotNil(t, report)
	assert.Equal(t, "sentiment", report.AgentName)
	assert.Equal(t, SignalBullish, report.Signal)
	assert.Equal(t, 0.8, report.Confidence)
	assert.Equal(t, "funding flipped negative", report.Reasoning)
	assert.Equal(t, -0.0002, report.Payload["funding_rate"])
	assert.WithinDuration(t, time.Now(), report.Timestamp, time.Minute)
}

func TestAgentPausedSkipsCycle(t *testing.T) {
	stub := newLLMStub(`{"signal":"bullish","confidence":0.8,"reasoning":"x"}`)
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	var paused atomic.Bool
	paused.Store(true)
	a.paused = &paused

	a.cycle(context.Background())

	assert.Nil(t, a.LatestReport())
	assert.Empty(t, stub.requests, "no model call while paused")

	paused.Store(false)
	a.cycle(context.Background())
	assert.NotNil(t, a.LatestReport())
}

func TestAgentLLMFailureYieldsNeutral(t *testing.T) {
	stub := newLLMStub("")
	stub.status = http.StatusInternalServerError
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	a.cycle(context.Background())

	report := a.LatestReport()
	require.NotNil(t, report)
	assert.Equal(t, SignalNeutral, report.Signal)
	assert.Equal(t, 0.5, report.Confidence)
	assert.Equal(t, "error", report.Reasoning)
}

func TestAgentMalformedReplyYieldsNeutral(t *testing.T) {
	stub := newLLMStub("not json at all")
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	a.cycle(context.Background())

	report := a.LatestReport()
	require.NotNil(t, report)
	assert.Equal(t, SignalNeutral, report.Signal)
	assert.Equal(t, 0.5, report.Confidence)
}

func TestAgentExchangeFailureYieldsNeutral(t *testing.T) {
	stub := newLLMStub(`{"signal":"bullish","confidence":0.9,"reasoning":"x"}`)
	defer stub.close()

	mock := exchange.NewMockClient()
	mock.Err = fmt.Errorf("venue down")

	a := newTestAgent("sentiment", mock, stub.client())
	a.cycle(context.Background())

	report := a.LatestReport()
	require.NotNil(t, report)
	assert.Equal(t, SignalNeutral, report.Signal)
	assert.Equal(t, 0.5, report.Confidence)
	assert.Contains(t, report.Reasoning, "venue down")
	assert.Empty(t, stub.requests, "no model call when inputs are unavailable")
}

func TestAgentNormalizesReply(t *testing.T) {
	stub := newLLMStub(`{"signal":"sideways","confidence":1.7,"reasoning":"x"}`)
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	a.cycle(context.Background())

	report := a.LatestReport()
	require.NotNil(t, report)
	assert.Equal(t, SignalNeutral, report.Signal, "unknown signal value normalizes to neutral")
	assert.Equal(t, 1.0, report.Confidence, "confidence clamps to [0,1]")
}

func TestAgentFirstCycleRunsImmediately(t *testing.T) {
	stub := newLLMStub(`{"signal":"neutral","confidence":0.5,"reasoning":"quiet"}`)
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())

	got := make(chan AgentReport, 1)
	a.OnReport(func(r AgentReport) { got <- r })

	a.Start(context.Background())
	defer a.Stop()

	select {
	case r := <-got:
		assert.Equal(t, SignalNeutral, r.Signal)
	case <-time.After(3 * time.Second):
		t.Fatal("first cycle did not run immediately on start")
	}
}

func TestAgentUsesRolePrompt(t *testing.T) {
	stub := newLLMStub(`{"signal":"neutral","confidence":0.5,"reasoning":"x"}`)
	defer stub.close()

	a := newTestAgent("sentiment", newSentimentMock(), stub.client())
	a.cycle(context.Background())

	require.Len(t, stub.requests, 1)
	req := stub.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.SystemPromptForRole("sentiment"), req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, `"funding_rate"`)
}

func TestDebateAgentIncludesOpposingThesis(t *testing.T) {
	stub := newLLMStub(`{"signal":"bullish","confidence":0.6,"reasoning":"x"}`)
	defer stub.close()

	mock := newSentimentMock()
	bull := newTestAgent("bull", mock, stub.client())
	bear := newTestAgent("bear", mock, stub.client())
	bull.SetCounterpart(bear)

	bear.latest.Store(&AgentReport{
		AgentName:  "bear",
		Role:       "bear",
		Signal:     SignalBearish,
		Confidence: 0.7,
		Reasoning:  "funding is overheated",
	})

	bull.cycle(context.Background())

	require.Len(t, stub.requests, 1)
	user := stub.requests[0].Messages[1].Content
	assert.Contains(t, user, "opposing_thesis")
	assert.Contains(t, user, "funding is overheated")
}

func TestGatherInputsPerRole(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.SetTicker(testSymbol, &exchange.Ticker{Symbol: testSymbol, Last: 88000, Bid: 87999, Ask: 88001, Volume24h: 1200, Change24h: 0.01})
	mock.SetDepth(testSymbol, &exchange.Depth{
		Bids: []exchange.Level{{87999, 3}, {87998, 2}},
		Asks: []exchange.Level{{88001, 1}, {88002, 1}},
	})
	mock.Funding[testSymbol] = &exchange.FundingRate{FundingRate: 0.0003}
	mock.Assets = []exchange.Asset{{CoinName: "USDT", Equity: 1000, Available: 900}}
	mock.SetPositions([]exchange.Position{{Symbol: testSymbol, HoldSide: "long", Total: 0.01, UnrealizedPL: 5}})

	candles := make([]exchange.Candle, 60)
	for i := range candles {
		price := 87000 + float64(i)*10
		candles[i] = exchange.Candle{Ts: int64(i), Open: price, High: price + 5, Low: price - 5, Close: price, Volume: 10}
	}
	mock.Candles[testSymbol] = candles

	cases := []struct {
		role string
		keys []string
	}{
		{"technical", []string{"price", "rsi_14", "ema_9", "ema_21", "macd", "bollinger_middle", "atr_14"}},
		{"structure", []string{"order_book_imbalance", "spread", "funding_rate", "equity", "net_exposure"}},
		{"market", []string{"last", "bid", "ask", "order_book_imbalance"}},
		{"sentiment", []string{"funding_rate", "change_24h"}},
		{"risk", []string{"equity", "open_positions", "unrealized_pnl"}},
		{"momentum", []string{"rsi_14", "ema_20", "ema_50", "trend"}},
		{"fundamentals", []string{"last", "funding_rate"}},
	}

	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			a := newTestAgent(tc.role, mock, nil)
			inputs, err := a.gatherInputs(context.Background())
			require.NoError(t, err)
			for _, key := range tc.keys {
				assert.Contains(t, inputs, key, "role %s should gather %s", tc.role, key)
			}
		})
	}
}

func TestGatherInputsUnknownRole(t *testing.T) {
	a := newTestAgent("astrology", exchange.NewMockClient(), nil)
	_, err := a.gatherInputs(context.Background())
	require.Error(t, err)
}

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, "uptrend", classifyTrend(110, 105, 100))
	assert.Equal(t, "downtrend", classifyTrend(90, 95, 100))
	assert.Equal(t, "sideways", classifyTrend(100, 101, 99))
}
