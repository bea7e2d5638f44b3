package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/pinger"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

// broadcastRate keeps broadcasts under the Telegram bulk message limit.
const broadcastRate = 25

// Notifier delivers a text message to a chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type CategoryCount struct {
	Category string `json:"category"`
	Services int    `json:"services"`
}

type Stats struct {
	Users        int             `json:"users"`
	TotalQueries int             `json:"total_queries"`
	TotalBalance decimal.Decimal `json:"total_balance"`
	Services     int             `json:"services"`
	Categories   []CategoryCount `json:"categories"`
	MostActive   *models.Account `json:"most_active,omitempty"`
	Pinger       *pinger.Status  `json:"autopinger,omitempty"`
}

type BroadcastResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// AdminService holds the owner operations shared by the bot commands and the
// admin HTTP API.
type AdminService struct {
	log      *slog.Logger
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	pinger   *pinger.Pinger
	notifier Notifier
	limiter  *rate.Limiter
}

func NewAdminService(log *slog.Logger, cat *catalog.Catalog, led *ledger.Ledger, p *pinger.Pinger, notifier Notifier) *AdminService {
	if log == nil {
		log = logger.Discard()
	}
	return &AdminService{
		log:      log,
		catalog:  cat,
		ledger:   led,
		pinger:   p,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(broadcastRate), 1),
	}
}

func (s *AdminService) AddService(ctx context.Context, svc models.Service) error {
	if err := s.catalog.Add(ctx, svc); err != nil {
		return err
	}
	s.log.Info("service added", "service_id", svc.ID, "category", svc.Category)
	return nil
}

func (s *AdminService) RemoveService(ctx context.Context, id int64) (models.Service, error) {
	svc, err := s.catalog.Remove(ctx, id)
	if err != nil {
		return models.Service{}, err
	}
	s.log.Info("service removed", "service_id", id)
	return svc, nil
}

func (s *AdminService) Services() []models.Service {
	return s.catalog.List()
}

// Credit adjusts a balance under the account lock so it never interleaves with
// a running verification.
func (s *AdminService) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (before, after decimal.Decimal, err error) {
	unlock := s.ledger.LockAccount(userID)
	defer unlock()
	before, after, err = s.ledger.Credit(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	s.log.Info("balance adjusted", "user_id", userID, "amount", amount.String(), "balance", after.String())
	return before, after, nil
}

func (s *AdminService) Account(userID int64) (models.Account, bool) {
	return s.ledger.Account(userID)
}

func (s *AdminService) Stats() Stats {
	ls := s.ledger.Stats()
	stats := Stats{
		Users:        ls.Users,
		TotalQueries: ls.TotalQueries,
		TotalBalance: ls.TotalBalance,
		Services:     s.catalog.Len(),
		MostActive:   ls.MostActive,
	}
	for _, category := range s.catalog.Categories() {
		stats.Categories = append(stats.Categories, CategoryCount{
			Category: category,
			Services: len(s.catalog.ByCategory(category)),
		})
	}
	if s.pinger != nil {
		st := s.pinger.Status()
		stats.Pinger = &st
	}
	return stats
}

// Broadcast sends message to every known account. Delivery failures are logged
// and skipped.
func (s *AdminService) Broadcast(ctx context.Context, message string) (BroadcastResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return BroadcastResult{}, fmt.Errorf("message required")
	}
	ids := s.ledger.UserIDs()
	result := BroadcastResult{Total: len(ids)}
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("broadcast interrupted: %w", err)
		}
		if err := s.notifier.Notify(ctx, id, message); err != nil {
			s.log.Error("send broadcast", "user_id", id, "err", err)
			continue
		}
		result.Sent++
	}
	s.log.Info("broadcast finished", "sent", result.Sent, "total", result.Total)
	return result, nil
}
