package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/IMEICheckBot/internal/models"
)

type memoryStore struct {
	mu       sync.Mutex
	accounts map[int64]models.Account
	saves    int
	saveErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[int64]models.Account)}
}

func (s *memoryStore) Load(context.Context) (map[int64]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]models.Account, len(s.accounts))
	for id, acc := range s.accounts {
		out[id] = acc.Clone()
	}
	return out, nil
}

func (s *memoryStore) Save(_ context.Context, acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.accounts[acc.UserID] = acc.Clone()
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixedClock(l *Ledger) *time.Time {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return now }
	return &now
}

func TestLedger_GetOrCreate(t *testing.T) {
	store := newMemoryStore()
	l := New(store, nil)
	now := fixedClock(l)

	acc, err := l.GetOrCreate(context.Background(), 10, models.Profile{Username: "neo", FirstName: "Thomas"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.UserID)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, *now, acc.JoinDate)
	assert.Equal(t, *now, acc.LastActivity)
	assert.Equal(t, 1, store.saves)

	*now = now.Add(time.Hour)
	acc, err = l.GetOrCreate(context.Background(), 10, models.Profile{Username: "the_one", FirstName: "Neo", LastName: "Anderson"})
	require.NoError(t, err)
	assert.Equal(t, "the_one", acc.Username)
	assert.Equal(t, "Neo Anderson", acc.FullName())
	assert.Equal(t, *now, acc.LastActivity)
	assert.NotEqual(t, acc.JoinDate, acc.LastActivity)
}

func TestLedger_RecordQuery(t *testing.T) {
	t.Run("success debits price", func(t *testing.T) {
		store := newMemoryStore()
		l := New(store, nil)
		_, err := l.GetOrCreate(context.Background(), 1, models.Profile{})
		require.NoError(t, err)
		_, _, err = l.Credit(context.Background(), 1, dec("5.00"))
		require.NoError(t, err)

		acc, err := l.RecordQuery(context.Background(), 1, "Carrier", dec("0.50"), "490154203237518", true)
		require.NoError(t, err)
		assert.True(t, dec("4.50").Equal(acc.Balance), acc.Balance.String())
		assert.Equal(t, 1, acc.TotalQueries)
		require.Len(t, acc.QueryHistory, 1)
		rec := acc.QueryHistory[0]
		assert.Equal(t, "7518", rec.IMEI)
		assert.True(t, rec.Success)
		assert.True(t, dec("0.50").Equal(rec.Price))

		stored := store.accounts[1]
		assert.True(t, dec("4.50").Equal(stored.Balance))
	})

	t.Run("failure never debits", func(t *testing.T) {
		l := New(newMemoryStore(), nil)
		_, _, err := l.Credit(context.Background(), 1, dec("5.00"))
		require.NoError(t, err)

		acc, err := l.RecordQuery(context.Background(), 1, "Carrier", dec("0.50"), "490154203237518", false)
		require.NoError(t, err)
		assert.True(t, dec("5.00").Equal(acc.Balance))
		assert.Equal(t, 1, acc.TotalQueries)
		assert.False(t, acc.QueryHistory[0].Success)
		assert.True(t, acc.QueryHistory[0].Price.IsZero())
	})

	t.Run("unknown account", func(t *testing.T) {
		l := New(newMemoryStore(), nil)
		_, err := l.RecordQuery(context.Background(), 99, "Carrier", dec("0.50"), "12345678", true)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("balance may go negative", func(t *testing.T) {
		l := New(newMemoryStore(), nil)
		_, err := l.GetOrCreate(context.Background(), 1, models.Profile{})
		require.NoError(t, err)
		acc, err := l.RecordQuery(context.Background(), 1, "MDM", dec("3.50"), "12345678", true)
		require.NoError(t, err)
		assert.True(t, dec("-3.50").Equal(acc.Balance))
	})
}

func TestLedger_HistoryCap(t *testing.T) {
	l := New(newMemoryStore(), nil)
	_, err := l.GetOrCreate(context.Background(), 1, models.Profile{})
	require.NoError(t, err)

	var acc models.Account
	for i := 0; i < 60; i++ {
		acc, err = l.RecordQuery(context.Background(), 1, fmt.Sprintf("svc-%02d", i), dec("0.01"), "12345678", true)
		require.NoError(t, err)
		require.LessOrEqual(t, len(acc.QueryHistory), HistoryLimit)
	}

	require.Len(t, acc.QueryHistory, HistoryLimit)
	assert.Equal(t, 60, acc.TotalQueries)
	for i, rec := range acc.QueryHistory {
		assert.Equal(t, fmt.Sprintf("svc-%02d", i+10), rec.Service)
	}
}

func TestLedger_SaveFailureLeavesStateUntouched(t *testing.T) {
	store := newMemoryStore()
	l := New(store, nil)
	_, _, err := l.Credit(context.Background(), 1, dec("5.00"))
	require.NoError(t, err)

	store.saveErr = errors.New("connection refused")
	_, err = l.RecordQuery(context.Background(), 1, "Carrier", dec("0.50"), "12345678", true)
	require.Error(t, err)

	acc, ok := l.Account(1)
	require.True(t, ok)
	assert.True(t, dec("5.00").Equal(acc.Balance))
	assert.Zero(t, acc.TotalQueries)
	assert.Empty(t, acc.QueryHistory)
}

func TestLedger_Credit(t *testing.T) {
	l := New(newMemoryStore(), nil)

	before, after, err := l.Credit(context.Background(), 5, dec("2.25"))
	require.NoError(t, err)
	assert.True(t, before.IsZero())
	assert.True(t, dec("2.25").Equal(after))

	acc, ok := l.Account(5)
	require.True(t, ok)
	assert.Equal(t, "User", acc.FirstName)

	_, _, err = l.Credit(context.Background(), 5, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_Credit_RejectsSubCentAmounts(t *testing.T) {
	store := newMemoryStore()
	l := New(store, nil)

	for _, amount := range []string{"0.005", "-0.001", "1.999"} {
		_, _, err := l.Credit(context.Background(), 5, dec(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
	assert.Zero(t, store.saves)
	_, ok := l.Account(5)
	assert.False(t, ok)

	_, after, err := l.Credit(context.Background(), 5, dec("1.10"))
	require.NoError(t, err)
	assert.True(t, dec("1.10").Equal(after))
}

func TestLedger_LoadAndStats(t *testing.T) {
	store := newMemoryStore()
	store.accounts[1] = models.Account{UserID: 1, Balance: dec("1.00"), TotalQueries: 2}
	store.accounts[2] = models.Account{UserID: 2, Balance: dec("3.50"), TotalQueries: 7, FirstName: "Ann"}
	store.accounts[3] = models.Account{UserID: 3, Balance: dec("0"), TotalQueries: 0}

	l := New(store, nil)
	require.NoError(t, l.Load(context.Background()))

	assert.Equal(t, []int64{1, 2, 3}, l.UserIDs())
	stats := l.Stats()
	assert.Equal(t, 3, stats.Users)
	assert.Equal(t, 9, stats.TotalQueries)
	assert.True(t, dec("4.50").Equal(stats.TotalBalance))
	require.NotNil(t, stats.MostActive)
	assert.Equal(t, int64(2), stats.MostActive.UserID)
}

func TestLedger_SnapshotsAreCopies(t *testing.T) {
	l := New(newMemoryStore(), nil)
	_, err := l.GetOrCreate(context.Background(), 1, models.Profile{})
	require.NoError(t, err)
	_, err = l.RecordQuery(context.Background(), 1, "Carrier", dec("0.10"), "12345678", false)
	require.NoError(t, err)

	acc, _ := l.Account(1)
	acc.QueryHistory[0].Service = "mutated"

	again, _ := l.Account(1)
	assert.Equal(t, "Carrier", again.QueryHistory[0].Service)
}

func TestLedger_LockAccount(t *testing.T) {
	l := New(newMemoryStore(), nil)
	_, _, err := l.Credit(context.Background(), 1, dec("1.00"))
	require.NoError(t, err)

	// Two transactions may only both debit if the balance gate runs under the lock.
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockAccount(1)
			defer unlock()
			acc, _ := l.Account(1)
			if acc.Balance.LessThan(dec("0.60")) {
				return
			}
			_, err := l.RecordQuery(context.Background(), 1, "Carrier", dec("0.60"), "12345678", true)
			assert.NoError(t, err)
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	acc, _ := l.Account(1)
	assert.True(t, dec("0.40").Equal(acc.Balance))
	assert.Zero(t, l.txLocks.size())
}
