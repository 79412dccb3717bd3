// Package payment implements the payment transaction ledger: gateway
// adapters, payment initiation, webhook processing, and refunds.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/vending-commerce/internal/domain/payment"
)

var ErrUnknownGateway = errors.New("unknown payment gateway")

// ClientPayload is what the client needs to drive the gateway's
// checkout flow for an initiated payment.
type ClientPayload struct {
	Gateway        string          `json:"gateway"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`

	// Settled marks payments collected at the machine itself. No
	// webhook follows, so the ledger settles the row immediately.
	Settled bool `json:"-"`
}

// GatewayAdapter is one payment provider integration. CreateRefund
// returns the gateway-side refund id.
type GatewayAdapter interface {
	Name() string
	CreatePayment(ctx context.Context, p *payment.Payment) (*ClientPayload, error)
	CreateRefund(ctx context.Context, original, refund *payment.Payment) (string, error)
}

// Registry resolves adapters by gateway name, case-insensitively. An
// unknown gateway falls back to the registered mock adapter when one
// is present, so development setups work without real credentials.
type Registry struct {
	adapters map[string]GatewayAdapter
}

func NewRegistry(adapters ...GatewayAdapter) *Registry {
	r := &Registry{adapters: make(map[string]GatewayAdapter)}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

func (r *Registry) Resolve(name string) (GatewayAdapter, error) {
	if a, ok := r.adapters[strings.ToLower(name)]; ok {
		return a, nil
	}
	if a, ok := r.adapters["mock"]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
}

// ==================== Razorpay ====================

// RazorpayAdapter creates gateway-side orders for the Razorpay
// checkout flow. Amounts go out in the currency's smallest unit.
type RazorpayAdapter struct{}

func (RazorpayAdapter) Name() string { return "razorpay" }

func (RazorpayAdapter) CreatePayment(ctx context.Context, p *payment.Payment) (*ClientPayload, error) {
	return &ClientPayload{
		Gateway:        "razorpay",
		GatewayOrderID: "order_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:14],
		Amount:         p.Amount.Mul(decimal.NewFromInt(100)).Round(0),
		Currency:       p.Currency,
	}, nil
}

func (RazorpayAdapter) CreateRefund(ctx context.Context, original, refund *payment.Payment) (string, error) {
	if original.GatewayResponse.TransactionID == "" {
		return "", errors.New("razorpay: original payment has no gateway transaction id")
	}
	return "rfnd_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:14], nil
}

// ==================== Stripe ====================

type StripeAdapter struct{}

func (StripeAdapter) Name() string { return "stripe" }

func (StripeAdapter) CreatePayment(ctx context.Context, p *payment.Payment) (*ClientPayload, error) {
	return &ClientPayload{
		Gateway:        "stripe",
		GatewayOrderID: "pi_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24],
		Amount:         p.Amount.Mul(decimal.NewFromInt(100)).Round(0),
		Currency:       strings.ToLower(p.Currency),
	}, nil
}

func (StripeAdapter) CreateRefund(ctx context.Context, original, refund *payment.Payment) (string, error) {
	if original.GatewayResponse.TransactionID == "" {
		return "", errors.New("stripe: original payment has no gateway transaction id")
	}
	return "re_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:24], nil
}

// ==================== Cash ====================

// CashAdapter covers coins fed into the machine. There is no async
// leg: the machine reports the money before the order is placed, so
// the payment settles in the same call.
type CashAdapter struct{}

func (CashAdapter) Name() string { return "cash" }

func (CashAdapter) CreatePayment(ctx context.Context, p *payment.Payment) (*ClientPayload, error) {
	return &ClientPayload{
		Gateway:        "cash",
		GatewayOrderID: "cash_" + uuid.New().String(),
		Amount:         p.Amount,
		Currency:       p.Currency,
		Settled:        true,
	}, nil
}

func (CashAdapter) CreateRefund(ctx context.Context, original, refund *payment.Payment) (string, error) {
	// Cash refunds dispense coins at the machine; the ledger only
	// records them.
	return "cashrfnd_" + uuid.New().String(), nil
}

// ==================== Mock ====================

// MockAdapter is the test double. FailPayments / FailRefunds switch it
// into rejection mode.
type MockAdapter struct {
	FailPayments bool
	FailRefunds  bool
	Settle       bool
}

func (MockAdapter) Name() string { return "mock" }

func (m MockAdapter) CreatePayment(ctx context.Context, p *payment.Payment) (*ClientPayload, error) {
	if m.FailPayments {
		return nil, errors.New("mock gateway: payment rejected")
	}
	return &ClientPayload{
		Gateway:        "mock",
		GatewayOrderID: "mock_" + uuid.New().String(),
		Amount:         p.Amount,
		Currency:       p.Currency,
		Settled:        m.Settle,
	}, nil
}

func (m MockAdapter) CreateRefund(ctx context.Context, original, refund *payment.Payment) (string, error) {
	if m.FailRefunds {
		return "", errors.New("mock gateway: refund rejected")
	}
	return "mockrfnd_" + uuid.New().String(), nil
}
