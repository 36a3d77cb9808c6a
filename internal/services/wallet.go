package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/observability"
)

// PointsClient talks to the internal points wallet over HTTP. Every call
// carries a fresh idempotency key so the wallet can dedupe retries.
type PointsClient struct {
	baseURL string
	secret  []byte
	issuer  string
	client  *http.Client
	log     *slog.Logger
}

func NewPointsClient(baseURL, secret, issuer string, log *slog.Logger) *PointsClient {
	return &PointsClient{
		baseURL: baseURL,
		secret:  []byte(secret),
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type walletRequest struct {
	Amount         float64 `json:"amount"`
	Reason         string  `json:"reason"`
	Activity       string  `json:"activity,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type walletResponse struct {
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

// Debit withdraws points from the user's wallet into escrow custody.
func (c *PointsClient) Debit(ctx context.Context, userID uint, activity models.EscrowActivityType, amount float64, note string) (string, error) {
	req := walletRequest{
		Amount:         amount,
		Reason:         note,
		Activity:       activity.String(),
		IdempotencyKey: uuid.NewString(),
	}
	id, err := c.post(ctx, fmt.Sprintf("%s/v1/wallets/%d/debits", c.baseURL, userID), req)
	if err != nil {
		observability.WalletErrors.WithLabelValues("debit").Inc()
		return "", err
	}
	return id, nil
}

// Credit returns points to the user's wallet.
func (c *PointsClient) Credit(ctx context.Context, userID uint, amount float64, note string) (string, error) {
	req := walletRequest{
		Amount:         amount,
		Reason:         note,
		IdempotencyKey: uuid.NewString(),
	}
	id, err := c.post(ctx, fmt.Sprintf("%s/v1/wallets/%d/credits", c.baseURL, userID), req)
	if err != nil {
		observability.WalletErrors.WithLabelValues("credit").Inc()
		return "", err
	}
	return id, nil
}

func (c *PointsClient) post(ctx context.Context, url string, body walletRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	token, err := serviceToken(c.secret, c.issuer, "wallet")
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("wallet response: %w", err)
	}
	var out walletResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("wallet response decode: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Warn("wallet call rejected", "status", resp.StatusCode, "message", out.Message)
		return "", fmt.Errorf("wallet returned %d: %s", resp.StatusCode, out.Message)
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("wallet response missing transaction id")
	}
	return out.TransactionID, nil
}
