package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	telegramBaseURL = "https://api.telegram.org"

	telegramTimeout = 10 * time.Second
	telegramRetries = 3
	telegramBackoff = 500 * time.Millisecond

	queueSize = 64
)

// Telegram sends messages through the Bot API. Messages are queued and a
// single worker delivers them with retries, so callers never wait on the
// network.
type Telegram struct {
	token   string
	chatID  string
	http    *http.Client
	baseURL string

	queue    chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewTelegram creates the notifier. Token and chat id come from config.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		http:    &http.Client{Timeout: telegramTimeout},
		baseURL: telegramBaseURL,
		queue:   make(chan string, queueSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (t *Telegram) Start(ctx context.Context) {
	go func() {
		defer close(t.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case text := <-t.queue:
				t.sendWithRetry(ctx, text)
			}
		}
	}()
}

// Stop halts the worker. Queued messages are dropped.
func (t *Telegram) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.done
}

// Buy implements Notifier.
func (t *Telegram) Buy(tr Trade) {
	t.enqueue(fmt.Sprintf(
		"🟢 BUY ORDER EXECUTED\n\n🪙 Mint: %s\n%s Protocol: %s\n💵 Spent: %s SOL\n💎 Price: %s SOL/token\n📊 Amount: %s tokens\n📝 Reason: %s\n🔗 Tx: %s",
		tr.Mint, protocolEmoji(tr.Dex), tr.Dex,
		tr.SOL.StringFixed(6), tr.Price.StringFixed(12), tr.Tokens.StringFixed(6),
		tr.Reason, tr.Signature,
	))
}

// Sell implements Notifier.
func (t *Telegram) Sell(tr Trade) {
	t.enqueue(fmt.Sprintf(
		"🔴 SELL ORDER EXECUTED\n\n🪙 Mint: %s\n%s Protocol: %s\n💵 Received: %s SOL\n💎 Price: %s SOL/token\n📝 Reason: %s\n🔗 Tx: %s",
		tr.Mint, protocolEmoji(tr.Dex), tr.Dex,
		tr.SOL.StringFixed(6), tr.Price.StringFixed(12),
		tr.Reason, tr.Signature,
	))
}

// Alert implements Notifier.
func (t *Telegram) Alert(text string) {
	t.enqueue("⚠️ " + text)
}

func (t *Telegram) enqueue(text string) {
	select {
	case t.queue <- text:
	default:
		t.dropped.Add(1)
		log.Warn().Msg("telegram: queue full, message dropped")
	}
}

func (t *Telegram) sendWithRetry(ctx context.Context, text string) {
	var lastErr error
	for attempt := 1; attempt <= telegramRetries; attempt++ {
		if err := t.send(ctx, text); err == nil {
			t.sent.Add(1)
			return
		} else {
			lastErr = err
		}
		if attempt < telegramRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(telegramBackoff * time.Duration(attempt)):
			}
		}
	}
	t.failed.Add(1)
	log.Error().Err(lastErr).Msg("telegram: delivery failed after retries")
}

func (t *Telegram) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram: parse response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram: api rejected message")
	}
	return nil
}

// Stats reports delivery counters.
func (t *Telegram) Stats() map[string]int64 {
	return map[string]int64{
		"sent":    t.sent.Load(),
		"failed":  t.failed.Load(),
		"dropped": t.dropped.Load(),
	}
}
