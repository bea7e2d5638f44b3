package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/config"
	"github.com/digkill/IMEICheckBot/internal/dialog"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/pinger"
	"github.com/digkill/IMEICheckBot/internal/service"
)

const limiterIdle = 10 * time.Minute

type Bot struct {
	cfg      config.Config
	api      *tgbotapi.BotAPI
	log      *slog.Logger
	verify   *service.VerificationService
	admin    *service.AdminService
	catalog  *catalog.Catalog
	pinger   *pinger.Pinger
	limiter  *userLimiter
	inflight *semaphore.Weighted
	wg       sync.WaitGroup
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, verify *service.VerificationService, admin *service.AdminService, cat *catalog.Catalog, p *pinger.Pinger) *Bot {
	inflight := cfg.BotMaxInflight
	if inflight <= 0 {
		inflight = 64
	}
	return &Bot{
		cfg:      cfg,
		api:      api,
		log:      log,
		verify:   verify,
		admin:    admin,
		catalog:  cat,
		pinger:   p,
		limiter:  newUserLimiter(cfg.UserRateLimit, cfg.UserRateBurst),
		inflight: semaphore.NewWeighted(int64(inflight)),
	}
}

// Run polls for updates and handles each one in its own goroutine. On shutdown
// it stops polling and waits for running handlers.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case update := <-updates:
			if err := b.inflight.Acquire(ctx, 1); err != nil {
				continue
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer b.inflight.Release(1)
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return ctx.Err()
		}
	}
}

// SweepLimiters drops rate limiter state for users idle for a while.
func (b *Bot) SweepLimiters() int {
	return b.limiter.Sweep(limiterIdle)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in update handler", "update_id", update.UpdateID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID
	if !b.allow(userID) {
		b.sendText(chatID, "⏳ Too many requests. Please wait a moment.")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	switch strings.TrimSpace(msg.Text) {
	case buttonCheck:
		b.sendReply(chatID, b.verify.Start(userID))
		return
	case buttonAccount:
		b.handleAccount(ctx, msg)
		return
	case buttonHelp:
		b.sendText(chatID, helpText(b.cfg.IsOwner(userID)))
		return
	case buttonCancel:
		b.sendReply(chatID, b.verify.Cancel(userID))
		return
	}

	switch b.verify.State(userID) {
	case dialog.StateAwaitingIdentifier:
		b.submit(ctx, msg)
	case dialog.StateAwaitingCategory, dialog.StateAwaitingService:
		b.sendText(chatID, "Please choose one of the buttons above, or press Cancel.")
	default:
		b.sendMenu(chatID, "💡 Choose an option from the menu:")
	}
}

func (b *Bot) submit(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.log.Debug("chat action", "err", err)
	}
	reply := b.verify.SubmitIdentifier(ctx, msg.From.ID, profileOf(msg.From), msg.Text)
	b.sendReply(chatID, reply)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		acc, err := b.verify.EnsureAccount(ctx, userID, profileOf(msg.From))
		if err != nil {
			b.log.Error("ensure account", "user_id", userID, "err", err)
		}
		name := acc.FirstName
		if name == "" {
			name = msg.From.FirstName
		}
		b.sendMenu(chatID, welcomeText(name, b.admin.Stats().Categories))
		return
	case "help":
		b.sendText(chatID, helpText(b.cfg.IsOwner(userID)))
		return
	case "ping":
		text := "🏓 Pong! The bot is running."
		if b.pinger != nil {
			st := b.pinger.Status()
			state := "stopped"
			if st.Running {
				state = "running"
			}
			text += fmt.Sprintf("\n📡 AutoPinger: %s (%d pings)", state, st.PingCount)
		}
		b.sendText(chatID, text)
		return
	case "cancel":
		b.sendReply(chatID, b.verify.Cancel(userID))
		return
	case "account", "balance":
		b.handleAccount(ctx, msg)
		return
	case "check":
		b.sendReply(chatID, b.verify.Start(userID))
		return
	}

	owner := b.cfg.IsOwner(userID)
	switch msg.Command() {
	case "addbalance", "addservice", "removeservice", "listservices", "stats", "broadcast", "autopinger", "autopingstart", "autopingstop":
		if !owner {
			b.sendText(chatID, "❌ No permission.")
			return
		}
	default:
		b.sendText(chatID, "Unknown command. Use /help.")
		return
	}

	switch msg.Command() {
	case "addbalance":
		b.handleAddBalance(ctx, chatID, args)
	case "addservice":
		b.handleAddService(ctx, chatID, args)
	case "removeservice":
		b.handleRemoveService(ctx, chatID, args)
	case "listservices":
		b.sendText(chatID, servicesListText(b.catalog.Categories(), b.catalog.ByCategory, b.catalog.Len()))
	case "stats":
		b.sendText(chatID, statsText(b.admin.Stats()))
	case "broadcast":
		if args == "" {
			b.sendText(chatID, "Usage: /broadcast &lt;message&gt;")
			return
		}
		res, err := b.admin.Broadcast(ctx, args)
		if err != nil {
			b.log.Error("broadcast", "err", err)
		}
		b.sendText(chatID, fmt.Sprintf("📢 Broadcast sent to %d of %d users.", res.Sent, res.Total))
	case "autopinger":
		b.sendText(chatID, pingerText(b.pinger.Status()))
	case "autopingstart":
		started, err := b.pinger.Start()
		switch {
		case errors.Is(err, pinger.ErrNoURL):
			b.sendText(chatID, "❌ AUTOPINGER_URL is not configured.")
		case started:
			b.sendText(chatID, "🟢 AutoPinger started.")
		default:
			b.sendText(chatID, "AutoPinger is already running.")
		}
	case "autopingstop":
		if b.pinger.Stop() {
			b.sendText(chatID, "🔴 AutoPinger stopped.")
		} else {
			b.sendText(chatID, "AutoPinger is not running.")
		}
	}
}

func (b *Bot) handleAccount(ctx context.Context, msg *tgbotapi.Message) {
	acc, err := b.verify.EnsureAccount(ctx, msg.From.ID, profileOf(msg.From))
	if err != nil {
		b.log.Error("ensure account", "user_id", msg.From.ID, "err", err)
		b.sendText(msg.Chat.ID, "❌ Could not load your account. Please try again later.")
		return
	}
	b.sendText(msg.Chat.ID, accountText(acc))
}

func (b *Bot) handleAddBalance(ctx context.Context, chatID int64, args string) {
	userID, amount, err := parseAddBalance(args)
	if err != nil {
		b.sendText(chatID, "Usage: /addbalance &lt;user_id&gt; &lt;amount&gt;")
		return
	}
	before, after, err := b.admin.Credit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			b.sendText(chatID, "❌ Amount must be non-zero with at most two decimal places.")
			return
		}
		b.log.Error("add balance", "user_id", userID, "err", err)
		b.sendText(chatID, "❌ Could not update the balance.")
		return
	}
	b.sendText(chatID, fmt.Sprintf("✅ <b>Balance updated</b>\n👤 User: <code>%d</code>\n💰 Before: $%s\n➕ Added: $%s\n💳 Now: $%s",
		userID, before.StringFixed(2), amount.StringFixed(2), after.StringFixed(2)))
}

func (b *Bot) handleAddService(ctx context.Context, chatID int64, args string) {
	svc, err := parseAddService(args)
	if err != nil {
		b.sendText(chatID, "Usage: /addservice &lt;id&gt; \"&lt;title&gt;\" &lt;price&gt; &lt;category&gt;")
		return
	}
	if err := b.admin.AddService(ctx, svc); err != nil {
		switch {
		case errors.Is(err, catalog.ErrDuplicateID):
			b.sendText(chatID, fmt.Sprintf("❌ A service with ID %d already exists.", svc.ID))
		case errors.Is(err, catalog.ErrInvalidService):
			b.sendText(chatID, "❌ "+html.EscapeString(err.Error()))
		default:
			b.log.Error("add service", "service_id", svc.ID, "err", err)
			b.sendText(chatID, "❌ Could not save the service.")
		}
		return
	}
	b.sendText(chatID, fmt.Sprintf("✅ <b>Service added</b>\n🆔 ID: %d\n📝 Title: %s\n💰 Price: $%s\n📂 Category: %s",
		svc.ID, html.EscapeString(svc.Title), svc.Price.StringFixed(2), html.EscapeString(svc.Category)))
}

func (b *Bot) handleRemoveService(ctx context.Context, chatID int64, args string) {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.sendText(chatID, "Usage: /removeservice &lt;id&gt;")
		return
	}
	svc, err := b.admin.RemoveService(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			b.sendText(chatID, fmt.Sprintf("❌ No service with ID %d.", id))
			return
		}
		b.log.Error("remove service", "service_id", id, "err", err)
		b.sendText(chatID, "❌ Could not remove the service.")
		return
	}
	b.sendText(chatID, fmt.Sprintf("✅ <b>Service removed</b>\n🆔 ID: %d\n📝 Title: %s\n📂 Category: %s",
		svc.ID, html.EscapeString(svc.Title), html.EscapeString(svc.Category)))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	ack := ""
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, ack)); err != nil {
			b.log.Debug("callback ack", "err", err)
		}
	}()
	if cb.Message == nil || cb.From == nil {
		return
	}
	userID := cb.From.ID
	if !b.allow(userID) {
		ack = "Too many requests"
		return
	}

	var reply service.Reply
	data := parseCallback(cb.Data)
	switch data.kind {
	case callbackKindCategory:
		reply = b.verify.SelectCategory(userID, data.category)
	case callbackKindService:
		reply = b.verify.SelectService(userID, data.serviceID)
	case callbackKindBack:
		reply = b.verify.Back(userID)
	case callbackKindCancel:
		reply = b.verify.Cancel(userID)
	default:
		ack = "Unknown option"
		return
	}
	b.editReply(cb.Message.Chat.ID, cb.Message.MessageID, reply)
}

func (b *Bot) allow(userID int64) bool {
	return b.cfg.IsOwner(userID) || b.limiter.Allow(userID)
}

// sendReply sends reply as a new message with the keyboard its prompt asks for.
func (b *Bot) sendReply(chatID int64, reply service.Reply) {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	switch reply.Prompt {
	case service.PromptMainMenu:
		msg.ReplyMarkup = mainMenuKeyboard()
	case service.PromptCategories:
		msg.ReplyMarkup = categoriesKeyboard(b.catalog.Categories())
	case service.PromptServices:
		msg.ReplyMarkup = servicesKeyboard(b.catalog.ByCategory(reply.Category))
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "err", err)
	}
}

// editReply rewrites the inline-keyboard message in place. The main menu is a
// reply keyboard, which cannot be attached by editing, so it goes out as a new
// message.
func (b *Bot) editReply(chatID int64, messageID int, reply service.Reply) {
	var edit tgbotapi.EditMessageTextConfig
	switch reply.Prompt {
	case service.PromptCategories:
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, reply.Text, categoriesKeyboard(b.catalog.Categories()))
	case service.PromptServices:
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, reply.Text, servicesKeyboard(b.catalog.ByCategory(reply.Category)))
	case service.PromptMainMenu:
		if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
			b.log.Debug("delete message", "err", err)
		}
		b.sendReply(chatID, reply)
		return
	default:
		edit = tgbotapi.NewEditMessageText(chatID, messageID, reply.Text)
	}
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("edit reply", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) sendMenu(chatID int64, text string) {
	b.sendReply(chatID, service.Reply{Text: text, Prompt: service.PromptMainMenu})
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func profileOf(from *tgbotapi.User) models.Profile {
	if from == nil {
		return models.Profile{}
	}
	return models.Profile{
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
}
