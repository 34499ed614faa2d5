package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu    sync.Mutex
	texts []string
	fails int // number of initial requests to reject
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.fails > 0 {
			c.fails--
			http.Error(w, "flood control", http.StatusTooManyRequests)
			return
		}
		require.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "42", body["chat_id"])
		c.texts = append(c.texts, body["text"])
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func (c *capture) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts[len(c.texts)-1]
}

func newTestTelegram(t *testing.T, c *capture) *Telegram {
	srv := httptest.NewServer(c.handler(t))
	t.Cleanup(srv.Close)

	tg := NewTelegram("test-token", "42")
	tg.baseURL = srv.URL
	return tg
}

func TestTelegram_DeliversBuyMessage(t *testing.T) {
	c := &capture{}
	tg := newTestTelegram(t, c)
	tg.Start(context.Background())
	defer tg.Stop()

	tg.Buy(Trade{
		Mint:      "Mint111",
		Dex:       "pumpfun",
		SOL:       decimal.NewFromFloat(0.001),
		Price:     decimal.NewFromFloat(0.000000028),
		Tokens:    decimal.NewFromInt(34_612),
		Reason:    "DROP_RECOVERY_TIER",
		Signature: "sig111",
	})

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := c.last()
	assert.Contains(t, msg, "BUY ORDER EXECUTED")
	assert.Contains(t, msg, "Mint111")
	assert.Contains(t, msg, "🚀 Protocol: pumpfun")
	assert.Contains(t, msg, "0.001000 SOL")
	assert.Contains(t, msg, "DROP_RECOVERY_TIER")
	assert.Equal(t, int64(1), tg.Stats()["sent"])
}

func TestTelegram_SellAndAlertFormats(t *testing.T) {
	c := &capture{}
	tg := newTestTelegram(t, c)
	tg.Start(context.Background())
	defer tg.Stop()

	tg.Sell(Trade{Mint: "M", Dex: "pumpswap", SOL: decimal.NewFromFloat(0.08), Price: decimal.New(28, -9), Reason: "STOP_LOSS", Signature: "s"})
	tg.Alert("memory usage critical")

	require.Eventually(t, func() bool { return c.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Contains(t, c.texts[0], "SELL ORDER EXECUTED")
	assert.Contains(t, c.texts[0], "💧 Protocol: pumpswap")
	assert.Contains(t, c.texts[1], "⚠️ memory usage critical")
}

func TestTelegram_RetriesFailedDelivery(t *testing.T) {
	c := &capture{fails: 2}
	tg := newTestTelegram(t, c)
	tg.Start(context.Background())
	defer tg.Stop()

	tg.Alert("retry me")

	// Two rejections then success on the third attempt.
	require.Eventually(t, func() bool { return c.count() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(1), tg.Stats()["sent"])
	assert.Equal(t, int64(0), tg.Stats()["failed"])
}

func TestTelegram_GivesUpAfterRetries(t *testing.T) {
	c := &capture{fails: 99}
	tg := newTestTelegram(t, c)
	tg.Start(context.Background())
	defer tg.Stop()

	tg.Alert("doomed")

	require.Eventually(t, func() bool { return tg.Stats()["failed"] == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(0), tg.Stats()["sent"])
}

func TestTelegram_DropsWhenQueueFull(t *testing.T) {
	tg := NewTelegram("t", "1") // never started, queue fills up
	for i := 0; i < queueSize+5; i++ {
		tg.Alert("x")
	}
	assert.Equal(t, int64(5), tg.Stats()["dropped"])
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	n.Buy(Trade{})
	n.Sell(Trade{})
	n.Alert("ignored")
}
