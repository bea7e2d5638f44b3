package telegram

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/pinger"
	"github.com/digkill/IMEICheckBot/internal/service"
)

const (
	maxListRunes   = 4000
	historyPreview = 3
	divider        = "━━━━━━━━━━━━━━━━━━━━"
)

var errUsage = errors.New("invalid arguments")

func parseAddBalance(args string) (int64, decimal.Decimal, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, decimal.Zero, errUsage
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: user id: %v", errUsage, err)
	}
	amount, err := decimal.NewFromString(fields[1])
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: amount: %v", errUsage, err)
	}
	return userID, amount, nil
}

// parseAddService reads `<id> "<title>" <price> <category>`. Without quotes the
// title is everything between the id and the last two fields.
func parseAddService(args string) (models.Service, error) {
	args = strings.TrimSpace(args)
	idField, rest, ok := strings.Cut(args, " ")
	if !ok {
		return models.Service{}, errUsage
	}
	id, err := strconv.ParseInt(idField, 10, 64)
	if err != nil {
		return models.Service{}, fmt.Errorf("%w: id: %v", errUsage, err)
	}
	rest = strings.TrimSpace(rest)

	var title string
	var tail []string
	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest[1:], `"`)
		if end < 0 {
			return models.Service{}, fmt.Errorf("%w: unterminated title", errUsage)
		}
		title = rest[1 : end+1]
		tail = strings.Fields(rest[end+2:])
		if len(tail) < 2 {
			return models.Service{}, errUsage
		}
	} else {
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return models.Service{}, errUsage
		}
		title = strings.Join(fields[:len(fields)-2], " ")
		tail = fields[len(fields)-2:]
	}

	price, err := decimal.NewFromString(tail[0])
	if err != nil {
		return models.Service{}, fmt.Errorf("%w: price: %v", errUsage, err)
	}
	return models.Service{
		ID:       id,
		Title:    strings.TrimSpace(title),
		Price:    price,
		Category: strings.Join(tail[1:], " "),
	}, nil
}

func welcomeText(name string, categories []service.CategoryCount) string {
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Hello, <b>%s</b>!\n\n", html.EscapeString(name))
	b.WriteString("I check phone IMEI and serial numbers against the verification provider. ")
	b.WriteString("Each check is paid from your balance and only charged when it succeeds.\n\n")
	if len(categories) > 0 {
		b.WriteString("📂 <b>Available categories:</b>\n")
		for _, c := range categories {
			fmt.Fprintf(&b, "%s %s: %d services\n", categoryEmoji(c.Category), html.EscapeString(c.Category), c.Services)
		}
		b.WriteString("\n")
	}
	b.WriteString("Press <b>Check IMEI</b> to begin.")
	return b.String()
}

func helpText(owner bool) string {
	var b strings.Builder
	b.WriteString("❓ <b>Help</b>\n\n")
	b.WriteString("/check - start a new IMEI check\n")
	b.WriteString("/account - balance and recent checks\n")
	b.WriteString("/cancel - cancel the current operation\n")
	b.WriteString("/ping - check that the bot is alive\n\n")
	b.WriteString("An IMEI has 15 digits. Serial numbers of 8 to 17 digits are accepted too. ")
	b.WriteString("Spaces and dashes are ignored.")
	if owner {
		b.WriteString("\n\n🔐 <b>Owner commands</b>\n")
		b.WriteString("/addbalance &lt;user_id&gt; &lt;amount&gt;\n")
		b.WriteString("/addservice &lt;id&gt; \"&lt;title&gt;\" &lt;price&gt; &lt;category&gt;\n")
		b.WriteString("/removeservice &lt;id&gt;\n")
		b.WriteString("/listservices\n")
		b.WriteString("/stats\n")
		b.WriteString("/broadcast &lt;message&gt;\n")
		b.WriteString("/autopinger, /autopingstart, /autopingstop")
	}
	return b.String()
}

func accountText(acc models.Account) string {
	var b strings.Builder
	b.WriteString("👤 <b>My Account</b>\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "🆔 <b>ID:</b> <code>%d</code>\n", acc.UserID)
	if name := acc.FullName(); name != "" {
		fmt.Fprintf(&b, "👤 <b>Name:</b> %s\n", html.EscapeString(name))
	}
	if acc.Username != "" {
		fmt.Fprintf(&b, "📧 <b>Username:</b> @%s\n", html.EscapeString(acc.Username))
	}
	fmt.Fprintf(&b, "💰 <b>Balance:</b> $%s\n", acc.Balance.StringFixed(2))
	fmt.Fprintf(&b, "🔍 <b>Checks:</b> %d\n", acc.TotalQueries)
	if !acc.JoinDate.IsZero() {
		fmt.Fprintf(&b, "📅 <b>Member since:</b> %s\n", acc.JoinDate.UTC().Format("2006-01-02"))
	}

	if n := len(acc.QueryHistory); n > 0 {
		b.WriteString("\n📜 <b>Recent checks:</b>\n")
		for i := n - 1; i >= 0 && i >= n-historyPreview; i-- {
			rec := acc.QueryHistory[i]
			mark := "✅"
			if !rec.Success {
				mark = "❌"
			}
			fmt.Fprintf(&b, "%s %s ...%s $%s (%s)\n",
				mark, html.EscapeString(rec.Service), html.EscapeString(rec.IMEI),
				rec.Price.StringFixed(2), rec.Date.UTC().Format("2006-01-02 15:04"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func servicesListText(categories []string, byCategory func(string) []models.Service, total int) string {
	if total == 0 {
		return "📝 No services configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 <b>Services (%d)</b>\n\n", total)
	for _, category := range categories {
		fmt.Fprintf(&b, "%s <b>%s:</b>\n", categoryEmoji(category), html.EscapeString(category))
		for _, svc := range byCategory(category) {
			fmt.Fprintf(&b, "• ID %d: $%s - %s\n", svc.ID, svc.Price.StringFixed(2), html.EscapeString(clip(svc.Title, 40)))
		}
		b.WriteString("\n")
	}
	text := strings.TrimRight(b.String(), "\n")
	if utf8.RuneCountInString(text) > maxListRunes {
		text = cutAtLine(text, maxListRunes) + "\n<i>... list truncated</i>"
	}
	return text
}

// cutAtLine trims s to at most limit runes without splitting a line, so no HTML
// tag is left open.
func cutAtLine(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if idx := strings.LastIndex(cut, "\n"); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

func statsText(st service.Stats) string {
	var b strings.Builder
	b.WriteString("📊 <b>Bot statistics</b>\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "👥 <b>Users:</b> %d\n", st.Users)
	fmt.Fprintf(&b, "🔍 <b>Checks:</b> %d\n", st.TotalQueries)
	fmt.Fprintf(&b, "💰 <b>Total balance:</b> $%s\n", st.TotalBalance.StringFixed(2))
	fmt.Fprintf(&b, "🛠️ <b>Services:</b> %d\n", st.Services)
	if st.Pinger != nil {
		state := "🔴 stopped"
		if st.Pinger.Running {
			state = "🟢 running"
		}
		fmt.Fprintf(&b, "📡 <b>AutoPing:</b> %s (%d pings)\n", state, st.Pinger.PingCount)
	}
	if len(st.Categories) > 0 {
		b.WriteString("\n📂 <b>By category:</b>\n")
		for _, c := range st.Categories {
			fmt.Fprintf(&b, "• %s %s: %d\n", categoryEmoji(c.Category), html.EscapeString(c.Category), c.Services)
		}
	}
	if st.MostActive != nil {
		name := st.MostActive.FirstName
		if name == "" {
			name = "No name"
		}
		fmt.Fprintf(&b, "\n🏆 <b>Most active:</b> %s (<code>%d</code>), %d checks\n",
			html.EscapeString(name), st.MostActive.UserID, st.MostActive.TotalQueries)
	}
	return strings.TrimRight(b.String(), "\n")
}

func pingerText(st pinger.Status) string {
	var b strings.Builder
	b.WriteString("📡 <b>AutoPinger</b>\n")
	state := "🔴 stopped"
	if st.Running {
		state = "🟢 running"
	}
	fmt.Fprintf(&b, "Status: %s\n", state)
	url := st.URL
	if url == "" {
		url = "not configured"
	}
	fmt.Fprintf(&b, "URL: %s\n", html.EscapeString(url))
	fmt.Fprintf(&b, "Interval: %s\n", st.Interval)
	fmt.Fprintf(&b, "Pings: %d, errors: %d\n", st.PingCount, st.ErrorCount)
	if !st.LastPing.IsZero() {
		fmt.Fprintf(&b, "Last ping: %s\n", st.LastPing.UTC().Format("2006-01-02 15:04:05"))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", html.EscapeString(st.LastError))
	}
	return strings.TrimRight(b.String(), "\n")
}
