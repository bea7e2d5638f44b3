package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

type Snapshot struct {
	CreatedAt time.Time        `json:"created_at"`
	Accounts  []models.Account `json:"accounts"`
	Services  []models.Service `json:"services"`
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type AccountSource interface {
	Accounts() []models.Account
}

type ServiceSource interface {
	List() []models.Service
}

// Backup uploads a JSON snapshot of accounts and services.
type Backup struct {
	accounts AccountSource
	services ServiceSource
	uploader Uploader
	log      *slog.Logger
	now      func() time.Time
}

func NewBackup(accounts AccountSource, services ServiceSource, uploader Uploader, log *slog.Logger) *Backup {
	if log == nil {
		log = logger.Discard()
	}
	return &Backup{accounts: accounts, services: services, uploader: uploader, log: log, now: time.Now}
}

func (b *Backup) Run(ctx context.Context) error {
	snap := Snapshot{
		CreatedAt: b.now().UTC(),
		Accounts:  b.accounts.Accounts(),
		Services:  b.services.List(),
	}
	if snap.Accounts == nil {
		snap.Accounts = []models.Account{}
	}
	if snap.Services == nil {
		snap.Services = []models.Service{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	key, err := b.uploader.Upload(ctx, data, "application/json")
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	b.log.Info("backup uploaded", "key", key, "accounts", len(snap.Accounts), "services", len(snap.Services), "bytes", len(data))
	return nil
}
