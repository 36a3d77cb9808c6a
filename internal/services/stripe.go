package services

import (
	"context"
	"fmt"
	"log/slog"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/carpoolhq/settlement-engine/internal/models"
	"github.com/carpoolhq/settlement-engine/internal/observability"
	"github.com/carpoolhq/settlement-engine/pkg/utils"
)

// CustomerDirectory maps internal user ids onto Stripe customer and connect
// account ids.
type CustomerDirectory interface {
	StripeCustomerID(ctx context.Context, userID uint) (string, error)
	StripeAccountID(ctx context.Context, userID uint) (string, error)
}

// StripeWallet is the card-money alternative to the points wallet: debits
// charge the rider's saved payment method, credits transfer to the driver's
// connect account.
type StripeWallet struct {
	api       *client.API
	currency  string
	customers CustomerDirectory
	log       *slog.Logger
}

func NewStripeWallet(apiKey, currency string, customers CustomerDirectory, log *slog.Logger) *StripeWallet {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeWallet{api: api, currency: currency, customers: customers, log: log}
}

func (w *StripeWallet) Debit(ctx context.Context, userID uint, activity models.EscrowActivityType, amount float64, note string) (string, error) {
	customerID, err := w.customers.StripeCustomerID(ctx, userID)
	if err != nil {
		observability.WalletErrors.WithLabelValues("debit").Inc()
		return "", fmt.Errorf("resolve customer for user %d: %w", userID, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(utils.ToCents(amount)),
		Currency:   stripe.String(w.currency),
		Customer:   stripe.String(customerID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("activity", activity.String())
	params.AddMetadata("note", note)

	pi, err := w.api.PaymentIntents.New(params)
	if err != nil {
		observability.WalletErrors.WithLabelValues("debit").Inc()
		w.log.Warn("stripe charge failed", "userId", userID, "amount", amount, "error", err)
		return "", fmt.Errorf("stripe charge: %w", err)
	}
	return pi.ID, nil
}

func (w *StripeWallet) Credit(ctx context.Context, userID uint, amount float64, note string) (string, error) {
	accountID, err := w.customers.StripeAccountID(ctx, userID)
	if err != nil {
		observability.WalletErrors.WithLabelValues("credit").Inc()
		return "", fmt.Errorf("resolve account for user %d: %w", userID, err)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(utils.ToCents(amount)),
		Currency:    stripe.String(w.currency),
		Destination: stripe.String(accountID),
		Description: stripe.String(note),
	}
	params.Context = ctx

	tr, err := w.api.Transfers.New(params)
	if err != nil {
		observability.WalletErrors.WithLabelValues("credit").Inc()
		w.log.Warn("stripe transfer failed", "userId", userID, "amount", amount, "error", err)
		return "", fmt.Errorf("stripe transfer: %w", err)
	}
	return tr.ID, nil
}
