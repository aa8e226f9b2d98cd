package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts HTML messages to one or more chats through the Bot API.
type Telegram struct {
	token   string
	chatIDs []string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTelegram builds a notifier for token and chatIDs.
func NewTelegram(token string, chatIDs []string) *Telegram {
	return &Telegram{
		token:   token,
		chatIDs: chatIDs,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
		// the Bot API throttles bursts above ~30 messages per second
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

// SetBaseURL points the notifier at another API host.
func (t *Telegram) SetBaseURL(u string) { t.baseURL = u }

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers text to every chat and reports false if any chat failed.
func (t *Telegram) Send(ctx context.Context, text string) bool {
	ok := true
	for _, chatID := range t.chatIDs {
		if err := t.send(ctx, chatID, text); err != nil {
			log.Printf("telegram: send to %s failed: %v", chatID, err)
			ok = false
		}
	}
	return ok
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(sendMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
