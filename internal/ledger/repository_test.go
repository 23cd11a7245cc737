package ledger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jmylchreest/ledger-api/internal/database"
	"github.com/jmylchreest/ledger-api/internal/database/dbtest"
	"github.com/jmylchreest/ledger-api/internal/database/migrations/core"
)

func migrate(t testing.TB, store *database.Store) {
	t.Helper()
	runner, err := core.NewRunner(store, nil)
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))
}

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	store := dbtest.New(t)
	migrate(t, store)
	return NewRepository(store)
}

func TestCreateAndGetPayment(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	p := &Payment{
		CheckingID: "chk1",
		Wallet:     "w1",
		Amount:     -1000,
		Fee:        -12,
		Pending:    true,
		Memo:       "coffee",
		Hash:       "abc",
		Bolt11:     "lnbc1",
		Extra:      map[string]any{"tag": "tpos"},
	}
	require.NoError(t, repo.CreatePayment(ctx, p))
	require.Equal(t, int64(12), p.Fee)

	got, err := repo.GetPayment(ctx, "w1", "chk1")
	require.NoError(t, err)
	require.Equal(t, int64(-1000), got.Amount)
	require.Equal(t, int64(12), got.Fee)
	require.True(t, got.Pending)
	require.Equal(t, "coffee", got.Memo)
	require.Equal(t, "abc", got.Hash)
	require.Equal(t, "lnbc1", got.Bolt11)
	require.Equal(t, "tpos", got.Tag())
	require.True(t, got.IsOut())
	require.False(t, got.Time.IsZero())
	require.WithinDuration(t, time.Now(), got.Time, time.Hour)
}

func TestCreatePaymentRejects(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.ErrorIs(t, repo.CreatePayment(ctx, &Payment{CheckingID: "z", Wallet: "w1"}), ErrInvalidAmount)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "dup", Wallet: "w1", Amount: 5}))
	require.ErrorIs(t, repo.CreatePayment(ctx, &Payment{CheckingID: "dup", Wallet: "w1", Amount: 7}), ErrDuplicatePayment)

	// The same checking id in another wallet is a different payment.
	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "dup", Wallet: "w2", Amount: 7}))
}

func TestGetPaymentNotFound(t *testing.T) {
	repo := setupRepo(t)
	_, err := repo.GetPayment(context.Background(), "w1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceFromView(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	balance, err := repo.Balance(ctx, "empty")
	require.NoError(t, err)
	require.Zero(t, balance)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "in", Wallet: "w1", Amount: 100}))
	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "out", Wallet: "w1", Amount: -40, Fee: 2, Pending: true}))

	balance, err = repo.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(58), balance)
}

func TestSettlePayment(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "inv", Wallet: "w1", Amount: 250, Pending: true}))

	balance, err := repo.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Zero(t, balance)

	require.NoError(t, repo.SettlePayment(ctx, "w1", "inv", SettleParams{Preimage: "pre"}))

	got, err := repo.GetPayment(ctx, "w1", "inv")
	require.NoError(t, err)
	require.False(t, got.Pending)
	require.Equal(t, "pre", got.Preimage)

	balance, err = repo.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(250), balance)

	require.ErrorIs(t, repo.SettlePayment(ctx, "w1", "nope", SettleParams{}), ErrNotFound)
}

func TestSettlePaymentKeepsSettledHistory(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "in", Wallet: "w1", Amount: 100}))
	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "out", Wallet: "w1", Amount: -40, Fee: 2, Pending: true}))

	// No fee supplied: the one recorded at creation stays.
	require.NoError(t, repo.SettlePayment(ctx, "w1", "out", SettleParams{Preimage: "p1"}))
	got, err := repo.GetPayment(ctx, "w1", "out")
	require.NoError(t, err)
	require.False(t, got.Pending)
	require.Equal(t, int64(2), got.Fee)

	balance, err := repo.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(58), balance)

	// A second settle is refused and changes nothing.
	require.ErrorIs(t, repo.SettlePayment(ctx, "w1", "out", SettleParams{Fee: 9, Preimage: "p2"}), ErrNotFound)
	got, err = repo.GetPayment(ctx, "w1", "out")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Fee)
	require.Equal(t, "p1", got.Preimage)

	balance, err = repo.Balance(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(58), balance)
}

func TestSettlePaymentRecordsFinalFee(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "out", Wallet: "w1", Amount: -40, Pending: true}))
	require.NoError(t, repo.SettlePayment(ctx, "w1", "out", SettleParams{Fee: -3}))

	got, err := repo.GetPayment(ctx, "w1", "out")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Fee)
}

func TestListPaymentsFilters(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	for _, p := range []*Payment{
		{CheckingID: "a", Wallet: "w1", Amount: 10},
		{CheckingID: "b", Wallet: "w1", Amount: 20, Pending: true},
		{CheckingID: "c", Wallet: "w1", Amount: -5},
		{CheckingID: "d", Wallet: "w1", Amount: -6, Pending: true},
		{CheckingID: "e", Wallet: "w2", Amount: 99},
	} {
		require.NoError(t, repo.CreatePayment(ctx, p))
	}

	ids := func(filter ListFilter) []string {
		payments, err := repo.ListPayments(ctx, "w1", filter)
		require.NoError(t, err)
		var out []string
		for _, p := range payments {
			out = append(out, p.CheckingID)
		}
		return out
	}

	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, ids(ListFilter{}))
	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, ids(ListFilter{Complete: true, Pending: true}))
	require.ElementsMatch(t, []string{"a", "c"}, ids(ListFilter{Complete: true}))
	require.ElementsMatch(t, []string{"b", "d"}, ids(ListFilter{Pending: true}))
	require.ElementsMatch(t, []string{"a", "b"}, ids(ListFilter{Incoming: true}))
	require.ElementsMatch(t, []string{"d"}, ids(ListFilter{Outgoing: true, Pending: true}))
	require.Len(t, ids(ListFilter{Limit: 2}), 2)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "fund", Wallet: "alice", Amount: 100}))

	id, err := repo.Transfer(ctx, "alice", "bob", 30, "lunch")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, InternalPrefix))

	alice, err := repo.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(70), alice)

	bob, err := repo.Balance(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(30), bob)

	credit, err := repo.GetPayment(ctx, "bob", id)
	require.NoError(t, err)
	require.Equal(t, "lunch", credit.Memo)
	require.False(t, credit.Pending)
}

func TestTransferRejects(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	require.NoError(t, repo.CreatePayment(ctx, &Payment{CheckingID: "fund", Wallet: "alice", Amount: 10}))

	_, err := repo.Transfer(ctx, "alice", "bob", 0, "")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = repo.Transfer(ctx, "alice", "alice", 1, "")
	require.ErrorIs(t, err, ErrSameWallet)

	_, err = repo.Transfer(ctx, "alice", "bob", 11, "")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// A failed transfer writes nothing.
	payments, err := repo.ListPayments(ctx, "bob", ListFilter{})
	require.NoError(t, err)
	require.Empty(t, payments)
}

func TestPendingWebhooks(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	for _, p := range []*Payment{
		{CheckingID: "paid", Wallet: "w1", Amount: 10, Webhook: "https://example.com/hook"},
		{CheckingID: "unpaid", Wallet: "w1", Amount: 10, Pending: true, Webhook: "https://example.com/hook"},
		{CheckingID: "nohook", Wallet: "w1", Amount: 10},
		{CheckingID: "outgoing", Wallet: "w1", Amount: -1, Webhook: "https://example.com/hook"},
	} {
		require.NoError(t, repo.CreatePayment(ctx, p))
	}

	pending, err := repo.PendingWebhooks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "paid", pending[0].CheckingID)

	require.NoError(t, repo.SetWebhookStatus(ctx, "w1", "paid", "200"))

	pending, err = repo.PendingWebhooks(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	got, err := repo.GetPayment(ctx, "w1", "paid")
	require.NoError(t, err)
	require.Equal(t, "200", got.WebhookStatus)

	require.ErrorIs(t, repo.SetWebhookStatus(ctx, "w1", "missing", "200"), ErrNotFound)
}

func TestComputeBalances(t *testing.T) {
	got := ComputeBalances([]Payment{
		{Wallet: "w1", Amount: 100},
		{Wallet: "w1", Amount: -40, Fee: 2, Pending: true},
		{Wallet: "w1", Amount: 500, Pending: true},
		{Wallet: "w2", Amount: -10, Fee: -3},
		{Wallet: "w3", Amount: 5, Pending: true},
	})
	require.Equal(t, map[string]int64{"w1": 58, "w2": -13}, got)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	for _, v := range []any{
		want,
		"2024-03-01 12:30:00",
		"2024-03-01T12:30:00Z",
		[]byte("2024-03-01T12:30:00Z"),
		want.Unix(),
	} {
		got, err := parseTime(v)
		require.NoError(t, err, "%v", v)
		require.True(t, want.Equal(got), "%v", v)
	}

	_, err := parseTime("yesterday")
	require.Error(t, err)
}

// The view and the in-memory formula agree on any set of payments.
func TestBalancesViewMatchesFormula(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store, err := database.Open(database.Options{Driver: database.DriverSQLite, DSN: ":memory:"})
		if err != nil {
			rt.Fatalf("open store: %v", err)
		}
		defer func() { _ = store.Close() }()

		runner, err := core.NewRunner(store, nil)
		if err != nil {
			rt.Fatalf("new runner: %v", err)
		}
		if err := runner.Run(ctx); err != nil {
			rt.Fatalf("migrate: %v", err)
		}
		repo := NewRepository(store)

		n := rapid.IntRange(0, 30).Draw(rt, "payments")
		var payments []Payment
		for i := 0; i < n; i++ {
			amount := rapid.Int64Range(-1_000_000, 1_000_000).Filter(func(v int64) bool { return v != 0 }).Draw(rt, "amount")
			p := Payment{
				CheckingID: fmt.Sprintf("p%d", i),
				Wallet:     rapid.SampledFrom([]string{"w1", "w2", "w3"}).Draw(rt, "wallet"),
				Amount:     amount,
				Fee:        rapid.Int64Range(-5_000, 5_000).Draw(rt, "fee"),
				Pending:    rapid.Bool().Draw(rt, "pending"),
			}
			if err := repo.CreatePayment(ctx, &p); err != nil {
				rt.Fatalf("create payment: %v", err)
			}
			payments = append(payments, p)
		}

		rows, err := repo.Balances(ctx)
		if err != nil {
			rt.Fatalf("balances: %v", err)
		}
		got := make(map[string]int64, len(rows))
		for _, b := range rows {
			got[b.Wallet] = b.Balance
		}

		want := ComputeBalances(payments)
		if len(got) != len(want) {
			rt.Fatalf("wallets: got %v, want %v", got, want)
		}
		for wallet, balance := range want {
			if got[wallet] != balance {
				rt.Fatalf("balance of %s: got %d, want %d", wallet, got[wallet], balance)
			}
		}
	})
}
