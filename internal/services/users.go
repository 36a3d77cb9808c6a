package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// UserClient performs the few user-record mutations the worker owns, against
// the same internal API host as the wallet.
type UserClient struct {
	baseURL string
	secret  []byte
	issuer  string
	client  *http.Client
	log     *slog.Logger
}

func NewUserClient(baseURL, secret, issuer string, log *slog.Logger) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		secret:  []byte(secret),
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// MarkLocalUser flips the user's local flag. The endpoint is idempotent on
// the server side.
func (c *UserClient) MarkLocalUser(ctx context.Context, userID uint) error {
	url := fmt.Sprintf("%s/v1/users/%d/local", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	token, err := serviceToken(c.secret, c.issuer, "users")
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("users request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<12))

	if resp.StatusCode >= 300 {
		c.log.Warn("mark local rejected", "userId", userID, "status", resp.StatusCode)
		return fmt.Errorf("users returned %d", resp.StatusCode)
	}
	return nil
}

type billingInfo struct {
	CustomerID string `json:"customerId"`
	AccountID  string `json:"accountId"`
}

// StripeCustomerID resolves the user's saved Stripe customer id.
func (c *UserClient) StripeCustomerID(ctx context.Context, userID uint) (string, error) {
	info, err := c.billing(ctx, userID)
	if err != nil {
		return "", err
	}
	if info.CustomerID == "" {
		return "", fmt.Errorf("user %d has no stripe customer", userID)
	}
	return info.CustomerID, nil
}

// StripeAccountID resolves the user's Stripe connect account for payouts.
func (c *UserClient) StripeAccountID(ctx context.Context, userID uint) (string, error) {
	info, err := c.billing(ctx, userID)
	if err != nil {
		return "", err
	}
	if info.AccountID == "" {
		return "", fmt.Errorf("user %d has no stripe account", userID)
	}
	return info.AccountID, nil
}

func (c *UserClient) billing(ctx context.Context, userID uint) (billingInfo, error) {
	url := fmt.Sprintf("%s/v1/users/%d/billing", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return billingInfo{}, err
	}
	token, err := serviceToken(c.secret, c.issuer, "users")
	if err != nil {
		return billingInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return billingInfo{}, fmt.Errorf("users request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return billingInfo{}, fmt.Errorf("users returned %d", resp.StatusCode)
	}
	var info billingInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<14)).Decode(&info); err != nil {
		return billingInfo{}, fmt.Errorf("billing decode: %w", err)
	}
	return info, nil
}
