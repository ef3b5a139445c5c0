package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pi-merchant/backend/internal/models"
	"go.uber.org/zap"
)

// BotNotifier delivers payment notifications to a merchant through the bot
// service internal API.
type BotNotifier struct {
	baseURL        string
	telegramUserID int64
	httpClient     *http.Client
	log            *zap.Logger
}

func NewBotNotifier(baseURL string, telegramUserID int64, log *zap.Logger) *BotNotifier {
	return &BotNotifier{
		baseURL:        strings.TrimRight(baseURL, "/"),
		telegramUserID: telegramUserID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type notifyRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Text           string `json:"text"`
	InvoiceID      string `json:"invoice_id"`
}

func (b *BotNotifier) Notify(ctx context.Context, n models.PaymentNotification) {
	if err := b.send(ctx, n); err != nil {
		b.log.Warn("failed to send bot notification", zap.String("invoice_id", n.InvoiceID), zap.Error(err))
	}
}

func (b *BotNotifier) send(ctx context.Context, n models.PaymentNotification) error {
	body, err := json.Marshal(notifyRequest{
		TelegramUserID: b.telegramUserID,
		Text:           n.Text(),
		InvoiceID:      n.InvoiceID,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/notify", b.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
