// Package formatter turns provider payloads into Telegram HTML messages.
package formatter

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/digkill/IMEICheckBot/internal/models"
)

const (
	MaxBodyRunes   = 1500
	NoInformation  = "No information available"
	TruncateMarker = "... (result truncated)"
	unavailable    = "N/A"
)

var (
	lineBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	// Some providers ship JSON-escaped markup inside the text itself.
	escapedBreakReplacer = strings.NewReplacer(`\u003Cbr\u003E`, "\n", `\u003cbr\u003e`, "\n")
)

// CleanBody decodes entities, converts line-break markup to newlines, strips tags
// and drops blank lines. Empty input yields NoInformation.
func CleanBody(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return NoInformation
	}

	decoded := html.UnescapeString(html.UnescapeString(raw))
	decoded = escapedBreakReplacer.Replace(decoded)
	decoded = lineBreakPattern.ReplaceAllString(decoded, "\n")
	decoded = tagPattern.ReplaceAllString(decoded, "")
	decoded = strings.ReplaceAll(decoded, "\u00a0", " ")

	lines := make([]string, 0, 16)
	for _, line := range strings.Split(decoded, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return NoInformation
	}
	return strings.Join(lines, "\n")
}

// Truncate caps s at limit runes and reports whether anything was cut.
func Truncate(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}

// Result renders a verification result as an HTML message.
func Result(res models.VerificationResult) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = NoInformation
		}
	}()

	var b strings.Builder
	b.WriteString("📱 <b>IMEI lookup</b>\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "🔍 <b>Service:</b> %s\n", escapeOr(res.ServiceName, unavailable))
	fmt.Fprintf(&b, "📟 <b>IMEI:</b> <code>%s</code>\n", escapeOr(res.IMEI, unavailable))
	fmt.Fprintf(&b, "⚡ <b>Status:</b> %s\n", escapeOr(res.Status, unavailable))
	fmt.Fprintf(&b, "💰 <b>Credit used:</b> $%s\n", escapeOr(res.Credit, "0.00"))
	fmt.Fprintf(&b, "💳 <b>Provider balance:</b> $%s\n", escapeOr(res.BalanceLeft, "0.00"))

	body, truncated := Truncate(CleanBody(res.Result), MaxBodyRunes)
	fmt.Fprintf(&b, "\n📋 <b>Details:</b>\n<pre>%s</pre>", html.EscapeString(body))
	if truncated {
		fmt.Fprintf(&b, "\n<i>%s</i>", TruncateMarker)
	}
	return b.String()
}

func escapeOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	return html.EscapeString(value)
}
