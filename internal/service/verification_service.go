package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/checker"
	"github.com/digkill/IMEICheckBot/internal/config"
	"github.com/digkill/IMEICheckBot/internal/dialog"
	"github.com/digkill/IMEICheckBot/internal/formatter"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/metrics"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/validator"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Checker performs one provider lookup.
type Checker interface {
	Check(ctx context.Context, identifier string, serviceID int64) (models.VerificationResult, error)
}

type Prompt int

const (
	PromptNone Prompt = iota
	PromptMainMenu
	PromptCategories
	PromptServices
	PromptIdentifier
)

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInvalidInput
	OutcomeInsufficientBalance
	OutcomeProviderError
	OutcomeStaleSession
	OutcomeRejected
	OutcomeUnexpected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeInsufficientBalance:
		return "insufficient_balance"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeStaleSession:
		return "stale_session"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unexpected"
	}
}

// Reply is what the chat adapter shows next. Text is Telegram HTML.
type Reply struct {
	Text     string
	Prompt   Prompt
	Category string
	Outcome  Outcome
}

const (
	genericFailureText = "❌ Something went wrong while processing your request. Your balance was not charged. Please try again later."
	staleSessionText   = "⚠️ The selected service is no longer available. Please start again."
	rejectedText       = "This menu is no longer active. Press <b>Check IMEI</b> to start a new check."
)

type VerificationService struct {
	cfg      config.Config
	log      *slog.Logger
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	sessions *dialog.Manager
	checker  Checker
}

func NewVerificationService(cfg config.Config, log *slog.Logger, cat *catalog.Catalog, led *ledger.Ledger, sessions *dialog.Manager, chk Checker) *VerificationService {
	if log == nil {
		log = logger.Discard()
	}
	return &VerificationService{
		cfg:      cfg,
		log:      log,
		catalog:  cat,
		ledger:   led,
		sessions: sessions,
		checker:  chk,
	}
}

// State reports where the user currently is in the dialog.
func (s *VerificationService) State(userID int64) dialog.State {
	return s.sessions.Get(userID).State
}

// EnsureAccount creates the account on first contact and refreshes its profile.
func (s *VerificationService) EnsureAccount(ctx context.Context, userID int64, profile models.Profile) (models.Account, error) {
	unlock := s.ledger.LockAccount(userID)
	defer unlock()
	return s.ledger.GetOrCreate(ctx, userID, profile)
}

func (s *VerificationService) Start(userID int64) Reply {
	if s.catalog.Len() == 0 {
		s.sessions.Reset(userID)
		return Reply{Text: "No verification services are available right now. Please try again later.", Prompt: PromptMainMenu, Outcome: OutcomeOK}
	}
	if _, err := s.sessions.Fire(userID, dialog.EventStart, nil); err != nil {
		return s.rejected(userID, err)
	}
	return Reply{Text: "📱 Select a device category:", Prompt: PromptCategories, Outcome: OutcomeOK}
}

func (s *VerificationService) SelectCategory(userID int64, name string) Reply {
	if s.sessions.Get(userID).State != dialog.StateAwaitingCategory {
		return s.rejected(userID, dialog.ErrInvalidTransition)
	}
	name = strings.TrimSpace(name)
	if name == "" || len(s.catalog.ByCategory(name)) == 0 {
		return Reply{Text: "Unknown category. Please choose one of the buttons below.", Prompt: PromptCategories, Outcome: OutcomeInvalidInput}
	}
	if _, err := s.sessions.Fire(userID, dialog.EventCategorySelected, func(sess *dialog.Session) {
		sess.Category = name
	}); err != nil {
		return s.rejected(userID, err)
	}
	return Reply{
		Text:     fmt.Sprintf("📂 <b>%s</b>\nSelect a service:", html.EscapeString(name)),
		Prompt:   PromptServices,
		Category: name,
		Outcome:  OutcomeOK,
	}
}

func (s *VerificationService) SelectService(userID, serviceID int64) Reply {
	session := s.sessions.Get(userID)
	if session.State != dialog.StateAwaitingService {
		return s.rejected(userID, dialog.ErrInvalidTransition)
	}
	svc, ok := s.catalog.ByID(serviceID)
	if !ok || svc.Category != session.Category {
		s.sessions.Reset(userID)
		return Reply{Text: staleSessionText, Prompt: PromptMainMenu, Outcome: OutcomeStaleSession}
	}
	if _, err := s.sessions.Fire(userID, dialog.EventServiceSelected, func(sess *dialog.Session) {
		sess.ServiceID = svc.ID
	}); err != nil {
		return s.rejected(userID, err)
	}
	return Reply{
		Text: fmt.Sprintf("🔎 <b>%s</b>\nPrice: $%s\n\nSend the IMEI or serial number to check.",
			html.EscapeString(svc.Title), svc.Price.StringFixed(2)),
		Prompt:   PromptIdentifier,
		Category: svc.Category,
		Outcome:  OutcomeOK,
	}
}

func (s *VerificationService) Back(userID int64) Reply {
	session, err := s.sessions.Fire(userID, dialog.EventBack, nil)
	if err != nil {
		return s.rejected(userID, err)
	}
	if session.State == dialog.StateAwaitingService {
		return Reply{
			Text:     fmt.Sprintf("📂 <b>%s</b>\nSelect a service:", html.EscapeString(session.Category)),
			Prompt:   PromptServices,
			Category: session.Category,
			Outcome:  OutcomeOK,
		}
	}
	return Reply{Text: "📱 Select a device category:", Prompt: PromptCategories, Outcome: OutcomeOK}
}

func (s *VerificationService) Cancel(userID int64) Reply {
	if _, err := s.sessions.Fire(userID, dialog.EventCancel, nil); err != nil {
		s.sessions.Reset(userID)
		return Reply{Text: "Nothing to cancel.", Prompt: PromptMainMenu, Outcome: OutcomeOK}
	}
	return Reply{Text: "Operation cancelled.", Prompt: PromptMainMenu, Outcome: OutcomeOK}
}

// SubmitIdentifier runs one verification transaction for the service selected in
// the user's session. Once the identifier is valid the session is back to idle
// whatever the outcome.
func (s *VerificationService) SubmitIdentifier(ctx context.Context, userID int64, profile models.Profile, text string) (reply Reply) {
	session := s.sessions.Get(userID)
	if session.State != dialog.StateAwaitingIdentifier {
		return s.rejected(userID, dialog.ErrInvalidTransition)
	}

	identifier, err := validator.Validate(text)
	if err != nil {
		if _, ferr := s.sessions.Fire(userID, dialog.EventIdentifierRejected, nil); ferr != nil {
			return s.rejected(userID, ferr)
		}
		return Reply{Text: invalidIdentifierText(err), Prompt: PromptIdentifier, Category: session.Category, Outcome: OutcomeInvalidInput}
	}

	if _, err := s.sessions.Fire(userID, dialog.EventSubmitted, nil); err != nil {
		return s.rejected(userID, err)
	}

	txID := uuid.NewString()
	log := s.log.With("tx_id", txID, "user_id", userID, "service_id", session.ServiceID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in verification transaction", "panic", r)
			reply = Reply{Text: genericFailureText, Prompt: PromptMainMenu, Outcome: OutcomeUnexpected}
		}
		metrics.Transactions.WithLabelValues(reply.Outcome.String()).Inc()
	}()

	return s.transact(ctx, log, userID, profile, session.ServiceID, identifier)
}

func (s *VerificationService) transact(ctx context.Context, log *slog.Logger, userID int64, profile models.Profile, serviceID int64, identifier string) Reply {
	svc, ok := s.catalog.ByID(serviceID)
	if !ok {
		log.Warn("selected service disappeared")
		return Reply{Text: staleSessionText, Prompt: PromptMainMenu, Outcome: OutcomeStaleSession}
	}

	unlock := s.ledger.LockAccount(userID)
	defer unlock()

	account, err := s.ledger.GetOrCreate(ctx, userID, profile)
	if err != nil {
		log.Error("failed to load account", "err", err)
		return Reply{Text: genericFailureText, Prompt: PromptMainMenu, Outcome: OutcomeUnexpected}
	}

	owner := s.cfg.IsOwner(userID)
	if err := admit(account, svc, owner); err != nil {
		log.Info("transaction rejected", "err", err, "balance", account.Balance.String(), "price", svc.Price.String())
		return Reply{
			Text: fmt.Sprintf("💳 Insufficient balance.\nService price: $%s\nYour balance: $%s",
				svc.Price.StringFixed(2), account.Balance.StringFixed(2)),
			Prompt:  PromptMainMenu,
			Outcome: OutcomeInsufficientBalance,
		}
	}

	log.Info("starting provider check", "owner", owner, "price", svc.Price.String())
	result, err := s.checker.Check(ctx, identifier, svc.ID)
	if err != nil {
		var perr *checker.ProviderError
		if !errors.As(err, &perr) {
			log.Error("provider check failed", "err", err)
			return Reply{Text: genericFailureText, Prompt: PromptMainMenu, Outcome: OutcomeUnexpected}
		}
		if _, rerr := s.ledger.RecordQuery(ctx, userID, svc.Title, decimal.Zero, identifier, false); rerr != nil {
			log.Error("failed to record failed query", "err", rerr)
		}
		log.Warn("provider error", "attempts", perr.Attempts, "err", perr.Last)
		return Reply{
			Text:    fmt.Sprintf("⚠️ The verification provider could not complete the check: %s\nYour balance was not charged.", html.EscapeString(perr.Last)),
			Prompt:  PromptMainMenu,
			Outcome: OutcomeProviderError,
		}
	}

	updated, err := s.ledger.RecordQuery(ctx, userID, svc.Title, svc.Price, identifier, true)
	if err != nil {
		log.Error("failed to record query after provider success", "err", err)
		return Reply{Text: genericFailureText, Prompt: PromptMainMenu, Outcome: OutcomeUnexpected}
	}
	log.Info("transaction completed", "balance", updated.Balance.String())

	text := formatter.Result(result) + fmt.Sprintf("\n\n💰 Charged: $%s\nBalance: $%s", svc.Price.StringFixed(2), updated.Balance.StringFixed(2))
	return Reply{Text: text, Prompt: PromptMainMenu, Outcome: OutcomeOK}
}

// admit is the balance gate. Owners are admitted regardless of balance.
func admit(account models.Account, svc models.Service, owner bool) error {
	if owner || !account.Balance.LessThan(svc.Price) {
		return nil
	}
	return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, account.Balance.String(), svc.Price.String())
}

func (s *VerificationService) rejected(userID int64, err error) Reply {
	s.log.Debug("dialog input rejected", "user_id", userID, "err", err)
	return Reply{Text: rejectedText, Prompt: PromptMainMenu, Outcome: OutcomeRejected}
}

func invalidIdentifierText(err error) string {
	switch {
	case errors.Is(err, validator.ErrChecksum):
		return "❌ Invalid IMEI: checksum does not match. Please check the number and send it again."
	default:
		return "❌ Invalid format. Send an IMEI or serial number of 8 to 17 digits."
	}
}
