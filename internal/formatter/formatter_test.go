package formatter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/digkill/IMEICheckBot/internal/models"
)

func TestCleanBody(t *testing.T) {
	t.Run("line breaks and tags", func(t *testing.T) {
		raw := "Model: <b>iPhone 13</b><br>Color: Blue<BR/>  <br />Find My: <span style=\"color:red\">ON</span>"
		assert.Equal(t, "Model: iPhone 13\nColor: Blue\nFind My: ON", CleanBody(raw))
	})

	t.Run("entities are decoded before stripping", func(t *testing.T) {
		raw := "Carrier: AT&amp;T&lt;br&gt;Blacklist: &lt;font color=green&gt;Clean&lt;/font&gt;"
		assert.Equal(t, "Carrier: AT&T\nBlacklist: Clean", CleanBody(raw))
	})

	t.Run("json escaped breaks", func(t *testing.T) {
		raw := `Line one\u003Cbr\u003ELine two`
		assert.Equal(t, "Line one\nLine two", CleanBody(raw))
	})

	t.Run("blank lines dropped", func(t *testing.T) {
		assert.Equal(t, "a\nb", CleanBody("a\n\n   \n&nbsp;\nb"))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, NoInformation, CleanBody(""))
		assert.Equal(t, NoInformation, CleanBody("<br><br/>"))
	})
}

func TestTruncate(t *testing.T) {
	s, cut := Truncate("привет", 3)
	assert.True(t, cut)
	assert.Equal(t, "при", s)

	s, cut = Truncate("ok", 3)
	assert.False(t, cut)
	assert.Equal(t, "ok", s)
}

func TestResult(t *testing.T) {
	t.Run("renders fields and escapes them", func(t *testing.T) {
		out := Result(models.VerificationResult{
			ServiceName: "iPhone <Carrier>",
			IMEI:        "490154203237518",
			Status:      "success",
			Credit:      "0.50",
			BalanceLeft: "99.50",
			Result:      "Model: iPhone 13<br>Lock: Off",
		})
		assert.Contains(t, out, "iPhone &lt;Carrier&gt;")
		assert.Contains(t, out, "<code>490154203237518</code>")
		assert.Contains(t, out, "$0.50")
		assert.Contains(t, out, "$99.50")
		assert.Contains(t, out, "<pre>Model: iPhone 13\nLock: Off</pre>")
		assert.NotContains(t, out, TruncateMarker)
	})

	t.Run("long body is truncated with marker", func(t *testing.T) {
		out := Result(models.VerificationResult{Result: strings.Repeat("x", MaxBodyRunes+10)})
		assert.Contains(t, out, "<pre>"+strings.Repeat("x", MaxBodyRunes)+"</pre>")
		assert.Contains(t, out, TruncateMarker)
	})

	t.Run("missing fields fall back", func(t *testing.T) {
		out := Result(models.VerificationResult{})
		assert.Contains(t, out, "<b>Service:</b> N/A")
		assert.Contains(t, out, "<pre>"+NoInformation+"</pre>")
		assert.True(t, utf8.ValidString(out))
	})
}
