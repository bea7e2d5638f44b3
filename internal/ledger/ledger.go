// Package ledger owns account balances and usage history.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

// HistoryLimit caps the number of query records kept per account.
const HistoryLimit = 50

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAmount   = errors.New("invalid amount")
)

// Store persists accounts keyed by user id.
type Store interface {
	Load(ctx context.Context) (map[int64]models.Account, error)
	Save(ctx context.Context, account models.Account) error
}

type Stats struct {
	Users        int
	TotalQueries int
	TotalBalance decimal.Decimal
	MostActive   *models.Account
}

// Ledger keeps accounts in memory and writes every change through to the store.
// A change is committed to memory only after the store accepted it.
type Ledger struct {
	store Store
	log   *slog.Logger
	now   func() time.Time

	// txLocks spans a whole transaction, writeLocks a single mutation.
	txLocks    *keyLock
	writeLocks *keyLock

	mu       sync.RWMutex
	accounts map[int64]models.Account
}

func New(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = logger.Discard()
	}
	return &Ledger{
		store:      store,
		log:        log,
		now:        time.Now,
		txLocks:    newKeyLock(),
		writeLocks: newKeyLock(),
		accounts:   make(map[int64]models.Account),
	}
}

func (l *Ledger) Load(ctx context.Context) error {
	accounts, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[int64]models.Account, len(accounts))
	for id, acc := range accounts {
		l.accounts[id] = acc.Clone()
	}
	l.log.Info("accounts loaded", "count", len(accounts))
	return nil
}

// LockAccount serializes transactions for one account. The returned func releases it.
func (l *Ledger) LockAccount(userID int64) func() {
	return l.txLocks.Lock(userID)
}

// GetOrCreate returns the account for userID, creating it with a zero balance when
// missing. Profile fields and last activity are refreshed on every call.
func (l *Ledger) GetOrCreate(ctx context.Context, userID int64, profile models.Profile) (models.Account, error) {
	return l.mutate(ctx, userID, true, func(acc *models.Account) error {
		acc.Username = profile.Username
		acc.FirstName = profile.FirstName
		acc.LastName = profile.LastName
		return nil
	})
}

// RecordQuery counts a query and appends it to the history. The balance is
// debited by price only when success is true.
func (l *Ledger) RecordQuery(ctx context.Context, userID int64, serviceTitle string, price decimal.Decimal, identifier string, success bool) (models.Account, error) {
	now := l.now()
	return l.mutate(ctx, userID, false, func(acc *models.Account) error {
		acc.TotalQueries++
		charged := decimal.Zero
		if success {
			charged = price
			acc.Balance = acc.Balance.Sub(price)
		}
		acc.QueryHistory = append(acc.QueryHistory, models.QueryRecord{
			Date:    now,
			Service: serviceTitle,
			Price:   charged,
			IMEI:    lastDigits(identifier, 4),
			Success: success,
		})
		if n := len(acc.QueryHistory); n > HistoryLimit {
			acc.QueryHistory = append([]models.QueryRecord(nil), acc.QueryHistory[n-HistoryLimit:]...)
		}
		return nil
	})
}

// Credit adds amount to the balance, creating the account when needed.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (before, after decimal.Decimal, err error) {
	switch {
	case amount.IsZero():
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: must be non-zero", ErrInvalidAmount)
	case !models.WholeCents(amount):
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	acc, err := l.mutate(ctx, userID, true, func(acc *models.Account) error {
		if acc.FirstName == "" && acc.Username == "" {
			acc.FirstName = "User"
		}
		before = acc.Balance
		acc.Balance = acc.Balance.Add(amount)
		return nil
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return before, acc.Balance, nil
}

func (l *Ledger) Account(userID int64) (models.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return models.Account{}, false
	}
	return acc.Clone(), true
}

// Accounts returns a snapshot of all accounts ordered by user id.
func (l *Ledger) Accounts() []models.Account {
	l.mu.RLock()
	out := make([]models.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, acc.Clone())
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (l *Ledger) UserIDs() []int64 {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Ledger) Stats() Stats {
	stats := Stats{TotalBalance: decimal.Zero}
	for _, acc := range l.Accounts() {
		stats.Users++
		stats.TotalQueries += acc.TotalQueries
		stats.TotalBalance = stats.TotalBalance.Add(acc.Balance)
		if acc.TotalQueries > 0 && (stats.MostActive == nil || acc.TotalQueries > stats.MostActive.TotalQueries) {
			stats.MostActive = &acc
		}
	}
	return stats
}

// mutate applies fn to a copy of the account, persists the copy and only then
// publishes it. create controls whether a missing account is initialised.
func (l *Ledger) mutate(ctx context.Context, userID int64, create bool, fn func(acc *models.Account) error) (models.Account, error) {
	unlock := l.writeLocks.Lock(userID)
	defer unlock()

	now := l.now()
	l.mu.RLock()
	acc, ok := l.accounts[userID]
	l.mu.RUnlock()
	switch {
	case ok:
		acc = acc.Clone()
	case create:
		acc = models.Account{
			UserID:       userID,
			JoinDate:     now,
			Balance:      decimal.Zero,
			QueryHistory: []models.QueryRecord{},
		}
	default:
		return models.Account{}, fmt.Errorf("%w: %d", ErrAccountNotFound, userID)
	}

	if err := fn(&acc); err != nil {
		return models.Account{}, err
	}
	acc.LastActivity = now

	if err := l.store.Save(ctx, acc); err != nil {
		return models.Account{}, fmt.Errorf("save account %d: %w", userID, err)
	}
	l.mu.Lock()
	l.accounts[userID] = acc
	l.mu.Unlock()
	if !ok {
		l.log.Info("account created", "user_id", userID)
	}
	return acc.Clone(), nil
}

func lastDigits(identifier string, n int) string {
	if len(identifier) <= n {
		return identifier
	}
	return identifier[len(identifier)-n:]
}
