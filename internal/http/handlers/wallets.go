package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ledger-api/internal/ledger"
	"github.com/jmylchreest/ledger-api/internal/logging"
)

// WalletInput identifies a wallet.
type WalletInput struct {
	Wallet string `path:"wallet" minLength:"1" maxLength:"128" doc:"Wallet id"`
}

// BalanceOutput is the balance of one wallet.
type BalanceOutput struct {
	Body ledger.Balance
}

// GetBalance returns the balance of a wallet as derived by the balances view.
func (h *Handlers) GetBalance(ctx context.Context, input *WalletInput) (*BalanceOutput, error) {
	ctx = logging.WithAttrs(ctx, slog.String("wallet", input.Wallet))

	balance, err := h.Ledger.Balance(ctx, input.Wallet)
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to read balance", "error", err)
		return nil, huma.Error500InternalServerError("failed to read balance")
	}

	return &BalanceOutput{Body: ledger.Balance{Wallet: input.Wallet, Balance: balance}}, nil
}

// ListPaymentsInput filters the payments of a wallet.
type ListPaymentsInput struct {
	Wallet   string `path:"wallet" minLength:"1" maxLength:"128" doc:"Wallet id"`
	Complete bool   `query:"complete" doc:"Only settled payments"`
	Pending  bool   `query:"pending" doc:"Only pending payments"`
	Incoming bool   `query:"incoming" doc:"Only incoming payments"`
	Outgoing bool   `query:"outgoing" doc:"Only outgoing payments"`
	Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Offset   int    `query:"offset" default:"0" minimum:"0"`
}

// ListPaymentsOutput is a page of payments, newest first.
type ListPaymentsOutput struct {
	Body struct {
		Payments []*ledger.Payment `json:"payments"`
	}
}

// ListPayments returns the payments of a wallet.
func (h *Handlers) ListPayments(ctx context.Context, input *ListPaymentsInput) (*ListPaymentsOutput, error) {
	ctx = logging.WithAttrs(ctx, slog.String("wallet", input.Wallet))

	payments, err := h.Ledger.ListPayments(ctx, input.Wallet, ledger.ListFilter{
		Complete: input.Complete,
		Pending:  input.Pending,
		Incoming: input.Incoming,
		Outgoing: input.Outgoing,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		h.Logger.ErrorContext(ctx, "failed to list payments", "error", err)
		return nil, huma.Error500InternalServerError("failed to list payments")
	}

	out := &ListPaymentsOutput{}
	out.Body.Payments = payments
	if out.Body.Payments == nil {
		out.Body.Payments = []*ledger.Payment{}
	}
	return out, nil
}
