// Package ledger reads and writes payments and exposes wallet balances.
//
// Balances are never stored. They are always read from the balances view,
// which derives them from the payments table.
package ledger

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a payment does not exist.
	ErrNotFound = errors.New("payment not found")

	// ErrDuplicatePayment is returned when (wallet, checking_id) is taken.
	ErrDuplicatePayment = errors.New("payment already exists")

	// ErrInvalidAmount is returned for zero amounts and non-positive transfers.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a transfer would overdraw the
	// sending wallet.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSameWallet is returned for a transfer to the sending wallet.
	ErrSameWallet = errors.New("cannot transfer to the same wallet")
)

// Payment is one row of the payments table. Positive amounts are incoming,
// negative amounts outgoing. Fee is always a magnitude.
type Payment struct {
	CheckingID    string         `json:"checking_id"`
	Wallet        string         `json:"wallet"`
	Amount        int64          `json:"amount"`
	Fee           int64          `json:"fee"`
	Pending       bool           `json:"pending"`
	Memo          string         `json:"memo,omitempty"`
	Time          time.Time      `json:"time"`
	Hash          string         `json:"payment_hash,omitempty"`
	Preimage      string         `json:"preimage,omitempty"`
	Bolt11        string         `json:"bolt11,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
	Webhook       string         `json:"webhook,omitempty"`
	WebhookStatus string         `json:"webhook_status,omitempty"`
}

// IsIn reports whether the payment credits its wallet.
func (p *Payment) IsIn() bool { return p.Amount > 0 }

// IsOut reports whether the payment debits its wallet.
func (p *Payment) IsOut() bool { return p.Amount < 0 }

// Tag returns the feature tag recorded in extra, if any.
func (p *Payment) Tag() string {
	if p.Extra == nil {
		return ""
	}
	tag, _ := p.Extra["tag"].(string)
	return tag
}

// Balance is one row of the balances view.
type Balance struct {
	Wallet  string `json:"wallet"`
	Balance int64  `json:"balance"`
}

// ListFilter narrows ListPayments. Setting both halves of a pair (or
// neither) leaves that dimension unfiltered.
type ListFilter struct {
	Complete bool
	Pending  bool
	Incoming bool
	Outgoing bool

	Limit  int
	Offset int
}

// SettleParams completes a pending payment.
type SettleParams struct {
	Fee      int64
	Preimage string
}

// ComputeBalances applies the balance formula to payments in memory: the sum
// of confirmed incoming amounts plus, for every outgoing payment (pending or
// not), its amount less the fee magnitude. A wallet appears only when it has
// at least one counted payment, which matches the view.
func ComputeBalances(payments []Payment) map[string]int64 {
	out := make(map[string]int64)
	for _, p := range payments {
		switch {
		case p.Amount > 0 && !p.Pending:
			out[p.Wallet] += p.Amount
		case p.Amount < 0:
			out[p.Wallet] += p.Amount - abs(p.Fee)
		}
	}
	return out
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
