package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/digkill/IMEICheckBot/internal/catalog"
	"github.com/digkill/IMEICheckBot/internal/ledger"
	"github.com/digkill/IMEICheckBot/internal/models"
	"github.com/digkill/IMEICheckBot/internal/service"
	"github.com/digkill/IMEICheckBot/pkg/logger"
)

// Operations is the owner surface exposed over HTTP.
type Operations interface {
	Services() []models.Service
	AddService(ctx context.Context, svc models.Service) error
	RemoveService(ctx context.Context, id int64) (models.Service, error)
	Account(userID int64) (models.Account, bool)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (before, after decimal.Decimal, err error)
	Stats() service.Stats
	Broadcast(ctx context.Context, message string) (service.BroadcastResult, error)
}

type Server struct {
	addr         string
	username     string
	passwordHash string
	log          *slog.Logger
	ops          Operations
	router       *chi.Mux
}

func NewServer(addr, username, passwordHash string, log *slog.Logger, ops Operations) *Server {
	if log == nil {
		log = logger.Discard()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:         addr,
		username:     username,
		passwordHash: passwordHash,
		log:          log,
		ops:          ops,
		router:       r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Get("/stats", s.handleStats)
		protected.Route("/services", func(r chi.Router) {
			r.Get("/", s.handleListServices)
			r.Post("/", s.handleCreateService)
			r.Delete("/{id}", s.handleDeleteService)
		})
		protected.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/balance", s.handleAdjustBalance)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}
	// The broadcast outlives the request.
	res, err := s.ops.Broadcast(context.WithoutCancel(r.Context()), req.Message)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ops.Stats())
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services := s.ops.Services()
	if services == nil {
		services = []models.Service{}
	}
	s.writeJSON(w, http.StatusOK, services)
}

type serviceRequest struct {
	ID       int64           `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	svc := models.Service{ID: req.ID, Title: req.Title, Price: req.Price, Category: req.Category}
	if err := s.ops.AddService(r.Context(), svc); err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, svc)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if _, err := s.ops.RemoveService(r.Context(), id); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	acc, ok := s.ops.Account(id)
	if !ok {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, acc)
}

type balanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type balanceResponse struct {
	UserID  int64           `json:"user_id"`
	Before  decimal.Decimal `json:"before"`
	After   decimal.Decimal `json:"after"`
	Applied decimal.Decimal `json:"applied"`
}

func (s *Server) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req balanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	before, after, err := s.ops.Credit(r.Context(), id, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			s.badRequest(w, err)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{UserID: id, Before: before, After: after, Applied: req.Amount})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !s.authorized(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="imeibot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) authorized(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 {
		return false
	}
	match, err := verifyArgon2id(pass, s.passwordHash)
	if err != nil {
		s.log.Error("admin password hash is unusable", "err", err)
		return false
	}
	return match
}

func (s *Server) catalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrDuplicateID):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, catalog.ErrInvalidService):
		s.badRequest(w, err)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
