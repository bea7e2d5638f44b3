package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CategoryApple   = "Apple"
	CategoryAndroid = "Android"
	CategoryGeneral = "General"
)

// KnownCategories is the fixed category set; services may also use free-form names.
var KnownCategories = []string{CategoryApple, CategoryAndroid, CategoryGeneral}

type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Account struct {
	UserID       int64           `json:"user_id"`
	Username     string          `json:"username"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	JoinDate     time.Time       `json:"join_date"`
	LastActivity time.Time       `json:"last_activity"`
	TotalQueries int             `json:"total_queries"`
	Balance      decimal.Decimal `json:"balance"`
	QueryHistory []QueryRecord   `json:"query_history"`
}

// Clone returns a deep copy so callers never share the history slice.
func (a Account) Clone() Account {
	out := a
	out.QueryHistory = append([]QueryRecord(nil), a.QueryHistory...)
	return out
}

func (a Account) FullName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	default:
		return a.LastName
	}
}

type QueryRecord struct {
	Date    time.Time       `json:"date"`
	Service string          `json:"service"`
	Price   decimal.Decimal `json:"price"`
	IMEI    string          `json:"imei"`
	Success bool            `json:"success"`
}

// WholeCents reports whether d has no fraction below a cent. Money columns
// are DECIMAL(14,2), so anything finer would be rounded on save.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

type Service struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

// VerificationResult is the provider response for a single lookup.
type VerificationResult struct {
	ServiceName string
	IMEI        string
	Status      string
	Credit      string
	BalanceLeft string
	Result      string
}
