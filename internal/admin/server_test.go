package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/service"
)

var testParams = HashParams{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16}

type fakeOps struct {
	services  []models.Service
	accounts  map[int64]models.Account
	broadcast string
}

func (f *fakeOps) Services() []models.Service { return f.services }

func (f *fakeOps) AddService(_ context.Context, svc models.Service) error {
	for _, existing := range f.services {
		if existing.ID == svc.ID {
			return fmt.Errorf("%w: %d", catalog.ErrDuplicateID, svc.ID)
		}
	}
	if !svc.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", catalog.ErrInvalidService)
	}
	f.services = append(f.services, svc)
	return nil
}

func (f *fakeOps) RemoveService(_ context.Context, id int64) (models.Service, error) {
	for i, svc := range f.services {
		if svc.ID == id {
			f.services = append(f.services[:i], f.services[i+1:]...)
			return svc, nil
		}
	}
	return models.Service{}, fmt.Errorf("%w: %d", catalog.ErrNotFound, id)
}

func (f *fakeOps) Account(userID int64) (models.Account, bool) {
	acc, ok := f.accounts[userID]
	return acc, ok
}

func (f *fakeOps) Credit(_ context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if amount.IsZero() {
		return decimal.Zero, decimal.Zero, ledger.ErrInvalidAmount
	}
	acc := f.accounts[userID]
	before := acc.Balance
	acc.UserID = userID
	acc.Balance = acc.Balance.Add(amount)
	f.accounts[userID] = acc
	return before, acc.Balance, nil
}

func (f *fakeOps) Stats() service.Stats {
	return service.Stats{Users: len(f.accounts), Services: len(f.services)}
}

func (f *fakeOps) Broadcast(_ context.Context, message string) (service.BroadcastResult, error) {
	f.broadcast = message
	return service.BroadcastResult{Sent: len(f.accounts), Total: len(f.accounts)}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeOps) {
	t.Helper()
	ops := &fakeOps{accounts: map[int64]models.Account{}}
	hash := HashPassword("s3cret", []byte("0123456789abcdef"), testParams)
	srv := httptest.NewServer(NewServer(":0", "admin", hash, nil, ops).Handler())
	t.Cleanup(srv.Close)
	return srv, ops
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth {
		req.SetBasicAuth("admin", "s3cret")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_PublicRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	resp = do(t, srv, http.MethodGet, "/stats", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Services(t *testing.T) {
	srv, ops := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/services", `{"id":7,"title":"Apple Carrier","price":"0.50","category":"Apple"}`, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, ops.services, 1)
	assert.True(t, decimal.RequireFromString("0.5").Equal(ops.services[0].Price))

	resp = do(t, srv, http.MethodPost, "/services", `{"id":7,"title":"again","price":"1","category":"Apple"}`, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/services", `{"id":8,"title":"free","price":"0","category":"Apple"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/services", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []models.Service
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Len(t, listed, 1)

	resp = do(t, srv, http.MethodDelete, "/services/7", "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, srv, http.MethodDelete, "/services/7", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, srv, http.MethodDelete, "/services/abc", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Accounts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/accounts/5", "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/accounts/5/balance", `{"amount":"2.50"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Before.IsZero())
	assert.True(t, decimal.RequireFromString("2.5").Equal(out.After))

	resp = do(t, srv, http.MethodPost, "/accounts/5/balance", `{"amount":"0"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/accounts/5", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acc models.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acc))
	assert.Equal(t, int64(5), acc.UserID)
}

func TestServer_Broadcast(t *testing.T) {
	srv, ops := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/broadcast", `{"message":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/broadcast", `{"message":"hello"}`, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", ops.broadcast)
}

func TestVerifyArgon2id(t *testing.T) {
	hash := HashPassword("pa55", []byte("saltsaltsaltsalt"), testParams)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"))

	ok, err := verifyArgon2id("pa55", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyArgon2id("nope", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"", "plain", "$argon2i$v=19$m=64,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=19$m=x$c2FsdA$aGFzaA", "$argon2id$v=19$m=64,t=1,p=1$!!$aGFzaA"} {
		_, err := verifyArgon2id("pa55", bad)
		assert.ErrorIs(t, err, ErrMalformedHash, bad)
	}
}
