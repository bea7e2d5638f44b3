package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/IMEICheckBot/internal/models"
)

const (
	buttonCheck   = "🔍 Check IMEI"
	buttonAccount = "👤 My Account"
	buttonHelp    = "❓ Help"
	buttonCancel  = "❌ Cancel"

	callbackCategoryPrefix = "cat_"
	callbackServicePrefix  = "svc_"
	callbackBack           = "back_to_categories"
	callbackCancel         = "cancel"

	maxServicesPerCategory = 15
	maxButtonRunes         = 64
	maxCallbackBytes       = 64
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonCheck)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonAccount),
			tgbotapi.NewKeyboardButton(buttonHelp),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonCancel)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func categoryEmoji(category string) string {
	switch category {
	case models.CategoryApple:
		return "🍎"
	case models.CategoryAndroid:
		return "🤖"
	case models.CategoryGeneral:
		return "🔧"
	default:
		return "📱"
	}
}

// categoriesKeyboard lays categories out two per row, followed by a cancel row.
func categoriesKeyboard(categories []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, category := range categories {
		data := callbackCategoryPrefix + category
		if len(data) > maxCallbackBytes {
			continue
		}
		text := clip(categoryEmoji(category)+" "+category, maxButtonRunes)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(text, data))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(buttonCancel, callbackCancel)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func servicesKeyboard(services []models.Service) tgbotapi.InlineKeyboardMarkup {
	if len(services) > maxServicesPerCategory {
		services = services[:maxServicesPerCategory]
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(services)+1)
	for _, svc := range services {
		text := clip(fmt.Sprintf("$%s - %s", svc.Price.StringFixed(2), svc.Title), maxButtonRunes)
		data := callbackServicePrefix + strconv.FormatInt(svc.ID, 10)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(text, data)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", callbackBack),
		tgbotapi.NewInlineKeyboardButtonData(buttonCancel, callbackCancel),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

type callbackKind int

const (
	callbackUnknown callbackKind = iota
	callbackKindCategory
	callbackKindService
	callbackKindBack
	callbackKindCancel
)

type callbackData struct {
	kind      callbackKind
	category  string
	serviceID int64
}

func parseCallback(data string) callbackData {
	switch {
	case data == callbackBack:
		return callbackData{kind: callbackKindBack}
	case data == callbackCancel:
		return callbackData{kind: callbackKindCancel}
	case strings.HasPrefix(data, callbackCategoryPrefix):
		return callbackData{kind: callbackKindCategory, category: strings.TrimPrefix(data, callbackCategoryPrefix)}
	case strings.HasPrefix(data, callbackServicePrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, callbackServicePrefix), 10, 64)
		if err != nil {
			return callbackData{}
		}
		return callbackData{kind: callbackKindService, serviceID: id}
	}
	return callbackData{}
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
