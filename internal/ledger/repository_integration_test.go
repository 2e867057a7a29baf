package ledger

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaleve/backend/internal/database/dbtest"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/repository"
)

func newPostgresLedger(t *testing.T, credit string) (*Service, *pgxpool.Pool) {
	t.Helper()
	pool := dbtest.Postgres(t)
	svc := NewService(pool, NewRepository(pool), repository.NewOrderRepo(pool), Config{
		ReferralCredit:   decimal.RequireFromString(credit),
		ExpirationWindow: 90 * 24 * time.Hour,
	}, nil)
	return svc, pool
}

// fundedWallet creates a wallet for a new profile and credits it through n
// distinct Kiwify orders.
func fundedWallet(t *testing.T, svc *Service, pool *pgxpool.Pool, n int) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := svc.Wallet(ctx, dbtest.Profile(t, pool))
	require.NoError(t, err)
	for range n {
		_, err := svc.CreditReferral(ctx, w.ReferralCode, "kiwify-"+uuid.NewString(), "buyer@example.com")
		require.NoError(t, err)
	}
	return w
}

func logSum(t *testing.T, pool *pgxpool.Pool, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	var sum decimal.Decimal
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT COALESCE(sum(amount), 0) FROM wallet_transactions WHERE user_id = $1`, userID).Scan(&sum))
	return sum
}

func TestPostgres_DuplicateKiwifyOrderCreditsOnce(t *testing.T) {
	svc, pool := newPostgresLedger(t, "10.00")
	ctx := context.Background()
	w := fundedWallet(t, svc, pool, 0)
	orderID := "kiwify-" + uuid.NewString()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CreditReferral(ctx, strings.ToLower(w.ReferralCode), orderID, "buyer@example.com")
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	}
	assert.Equal(t, 1, ok)

	got, err := svc.Wallet(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Balance.StringFixed(2))
	var referrals int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM referrals WHERE kiwify_order_id = $1`, orderID).Scan(&referrals))
	assert.Equal(t, 1, referrals)
}

func TestPostgres_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, pool := newPostgresLedger(t, "10.00")
	ctx := context.Background()
	w := fundedWallet(t, svc, pool, 2)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, w.UserID, DebitRequest{Amount: decimal.RequireFromString("7.50"), ProductTitle: "Chá detox"})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	}
	assert.Equal(t, 2, ok)

	got, err := svc.Wallet(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.Balance.StringFixed(2))
	assert.True(t, logSum(t, pool, w.UserID).Equal(got.Balance), "balance equals the sum of the log")

	var orders int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE user_id = $1 AND payment_method = $2`, w.UserID, models.PaymentWallet).Scan(&orders))
	assert.Equal(t, 2, orders, "rejected debits leave no order behind")
}

func TestPostgres_ExpirationHonoursRecentTransactions(t *testing.T) {
	svc, pool := newPostgresLedger(t, "10.00")
	ctx := context.Background()
	idle := fundedWallet(t, svc, pool, 1)
	lagging := fundedWallet(t, svc, pool, 1)

	old := time.Now().Add(-100 * 24 * time.Hour)
	_, err := pool.Exec(ctx, `UPDATE wallets SET updated_at = $3 WHERE id IN ($1, $2)`, idle.ID, lagging.ID, old)
	require.NoError(t, err)
	// Only the idle wallet's history is old; the lagging wallet has a fresh
	// transaction even though its updated_at says otherwise.
	_, err = pool.Exec(ctx, `UPDATE wallet_transactions SET created_at = $2 WHERE wallet_id = $1`, idle.ID, old)
	require.NoError(t, err)

	_, err = svc.ExpireInactive(ctx)
	require.NoError(t, err)

	got, err := svc.Wallet(ctx, idle.UserID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	txs, err := svc.Transactions(ctx, idle.UserID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, models.WalletTxExpiration, txs[0].Type)
	assert.Equal(t, "-10.00", txs[0].Amount.StringFixed(2))

	got, err = svc.Wallet(ctx, lagging.UserID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Balance.StringFixed(2))
}

func TestPostgres_DecimalRoundTrip(t *testing.T) {
	svc, pool := newPostgresLedger(t, "0.10")
	ctx := context.Background()
	w := fundedWallet(t, svc, pool, 3)

	got, err := svc.Wallet(ctx, w.UserID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("0.30")), "got %s", got.Balance)

	res, err := svc.Debit(ctx, w.UserID, DebitRequest{Amount: decimal.RequireFromString("0.20"), ProductTitle: "Amostra"})
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(decimal.RequireFromString("0.10")), "got %s", res.NewBalance)

	txs, err := svc.Transactions(ctx, w.UserID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.Equal(t, "-0.20", txs[0].Amount.StringFixed(2))
	assert.True(t, logSum(t, pool, w.UserID).Equal(res.NewBalance))
}
