package telegram

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/IMEICheckBot/internal/models"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callbackData
	}{
		{"cat_Apple", callbackData{kind: callbackKindCategory, category: "Apple"}},
		{"cat_Smart Watch", callbackData{kind: callbackKindCategory, category: "Smart Watch"}},
		{"svc_42", callbackData{kind: callbackKindService, serviceID: 42}},
		{"svc_abc", callbackData{}},
		{"back_to_categories", callbackData{kind: callbackKindBack}},
		{"cancel", callbackData{kind: callbackKindCancel}},
		{"something", callbackData{}},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCallback(tt.data))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	clipped := clip(strings.Repeat("я", 80), maxButtonRunes)
	assert.Equal(t, maxButtonRunes, utf8.RuneCountInString(clipped))
	assert.True(t, strings.HasSuffix(clipped, "…"))
}

func TestServicesKeyboard_CapsButtons(t *testing.T) {
	services := make([]models.Service, 0, 20)
	for i := 1; i <= 20; i++ {
		services = append(services, models.Service{
			ID:       int64(i),
			Title:    "Service " + strconv.Itoa(i),
			Price:    decimal.RequireFromString("0.10"),
			Category: models.CategoryApple,
		})
	}

	kb := servicesKeyboard(services)
	require.Len(t, kb.InlineKeyboard, maxServicesPerCategory+1)

	first := kb.InlineKeyboard[0][0]
	assert.Equal(t, "$0.10 - Service 1", first.Text)
	require.NotNil(t, first.CallbackData)
	assert.Equal(t, "svc_1", *first.CallbackData)

	nav := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	require.Len(t, nav, 2)
	assert.Equal(t, callbackBack, *nav[0].CallbackData)
	assert.Equal(t, callbackCancel, *nav[1].CallbackData)
}

func TestCategoriesKeyboard(t *testing.T) {
	long := strings.Repeat("x", maxCallbackBytes)
	kb := categoriesKeyboard([]string{models.CategoryApple, models.CategoryAndroid, models.CategoryGeneral, long})

	// Two rows of categories, then cancel. The oversized category is dropped.
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Len(t, kb.InlineKeyboard[0], 2)
	assert.Len(t, kb.InlineKeyboard[1], 1)
	assert.Equal(t, "cat_Apple", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "🍎 Apple", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, callbackCancel, *kb.InlineKeyboard[2][0].CallbackData)
}

func TestMainMenuKeyboard(t *testing.T) {
	kb := mainMenuKeyboard()
	assert.True(t, kb.ResizeKeyboard)
	require.Len(t, kb.Keyboard, 3)
	assert.Equal(t, buttonCheck, kb.Keyboard[0][0].Text)
}
