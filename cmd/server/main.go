package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/verkstad/dashboard/automation"
	"github.com/verkstad/dashboard/internal/config"
	"github.com/verkstad/dashboard/internal/dedup"
	"github.com/verkstad/dashboard/internal/logger"
	"github.com/verkstad/dashboard/pipeline"
	"github.com/verkstad/dashboard/rotrut"
	"github.com/verkstad/dashboard/rules"
	"github.com/verkstad/dashboard/tenant"
)

const maxBodyBytes = 1 << 20

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Server struct {
	db          *sql.DB
	rdb         *redis.Client
	tenants     tenant.Directory
	settings    *automation.Resolver
	deals       pipeline.DealStore
	automator   *pipeline.Automator
	router      *chi.Mux
	slowRequest time.Duration
	now         func() time.Time
}

// Deps are the collaborators a Server is built from
type Deps struct {
	DB          *sql.DB
	Redis       *redis.Client
	Tenants     tenant.Directory
	Settings    *automation.Resolver
	Deals       pipeline.DealStore
	Automator   *pipeline.Automator
	SlowRequest time.Duration
}

// NewServer connects to Postgres and Redis when configured and wires every
// component. Without DATABASE_URL the server runs on in-memory stores.
func NewServer(cfg *config.Config) (*Server, error) {
	defaults, err := config.LoadAutomationDefaults(cfg.AutomationDefaultsPath, automation.DefaultSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to load automation defaults: %w", err)
	}

	var (
		db            *sql.DB
		settingsStore automation.SettingsStore
		deals         pipeline.DealStore
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		settingsStore = automation.NewPostgresSettingsStore(db)
		deals = pipeline.NewPostgresDealStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		settingsStore = automation.NewInMemorySettingsStore()
		deals = pipeline.NewInMemoryDealStore()
	}

	tenants := tenant.NewManager(db)
	logger.Info("loading businesses")
	if err := tenants.LoadAll(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load businesses: %w", err)
	}

	var (
		rdb     *redis.Client
		deduper pipeline.Deduper
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		deduper = dedup.NewFilter(rdb, cfg.CallDedupTTL)
	} else {
		deduper = dedup.NewMemoryFilter(cfg.CallDedupTTL)
	}

	engine, err := rules.NewGatingEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create gating engine: %w", err)
	}

	if cfg.AnthropicAPIKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, call classification will fail soft")
	}
	classifier := pipeline.NewAnthropicClassifier(
		&http.Client{Timeout: cfg.ClassifierTimeout},
		cfg.AnthropicBaseURL,
		cfg.AnthropicAPIKey,
		cfg.AnthropicModel,
	)

	resolver := automation.NewResolver(settingsStore, defaults)

	return NewServerWithDeps(Deps{
		DB:          db,
		Redis:       rdb,
		Tenants:     tenants,
		Settings:    resolver,
		Deals:       deals,
		Automator:   pipeline.NewAutomator(resolver, classifier, deals, engine, deduper),
		SlowRequest: cfg.SlowRequestThreshold,
	}), nil
}

// NewServerWithDeps builds a server from already constructed collaborators
func NewServerWithDeps(d Deps) *Server {
	s := &Server{
		db:          d.DB,
		rdb:         d.Redis,
		tenants:     d.Tenants,
		settings:    d.Settings,
		deals:       d.Deals,
		automator:   d.Automator,
		slowRequest: d.SlowRequest,
		now:         time.Now,
	}
	if s.slowRequest <= 0 {
		s.slowRequest = 2 * time.Second
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	r.Post("/api/v1/deductions/calculate", s.handleCalculateDeduction)
	r.Post("/api/v1/personnummer/validate", s.handleValidatePersonnummer)

	// Tenant management
	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Use(s.requireTenant)

			r.Get("/", s.handleGetTenant)
			r.Get("/automation-settings", s.handleGetSettings)
			r.Patch("/automation-settings", s.handlePatchSettings)
			r.Get("/deals", s.handleListDeals)
		})
	})

	// Internal pipeline events
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Post("/transcription-complete", s.handleTranscriptionComplete)
		r.Post("/quote-accepted", s.handleQuoteAccepted)
		r.Post("/invoice-paid", s.handleInvoicePaid)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and feeds the HTTP counters
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}

		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			logger.Logger.Error("request failed", args...)
		case status >= 400:
			logger.WarnHttp4xx(status)
			logger.Debug("request rejected", args...)
		default:
			logger.Debug("request served", args...)
		}

		if elapsed > s.slowRequest {
			logger.WarnSlowRequest()
			logger.Logger.Warn("slow request", args...)
		}
	})
}

type tenantKey struct{}

// requireTenant resolves {tenantId} and rejects unknown businesses
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, status, err := s.lookupTenant(r.Context(), chi.URLParam(r, "tenantId"))
		if err != nil {
			respondError(w, status, "tenant not found", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, b)))
	})
}

func tenantFrom(ctx context.Context) *tenant.Business {
	b, _ := ctx.Value(tenantKey{}).(*tenant.Business)
	return b
}

func (s *Server) lookupTenant(ctx context.Context, id string) (*tenant.Business, int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, http.StatusNotFound, fmt.Errorf("invalid tenant id %q", id)
	}
	b, err := s.tenants.Get(ctx, id)
	if errors.Is(err, tenant.ErrBusinessNotFound) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return b, http.StatusOK, nil
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Storage: "memory"}
	if s.db != nil {
		resp.Storage = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(r.Context()).Err(); err != nil {
			resp.Status = "degraded"
			resp.Error = "redis: " + err.Error()
		}
	}

	tenants, err := s.tenants.List(r.Context())
	if err == nil {
		resp.TenantsLoaded = len(tenants)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handler
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// Deduction calculation handler
func (s *Server) handleCalculateDeduction(w http.ResponseWriter, r *http.Request) {
	var req CalculateDeductionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	t, err := rotrut.ParseDeductionType(req.DeductionType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid deductionType", err)
		return
	}

	for i, item := range req.Items {
		if item.Total.IsNegative() {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("items[%d].total must not be negative", i), nil)
			return
		}
	}

	var total decimal.Decimal
	if req.TotalInclVat != nil {
		total = *req.TotalInclVat
	} else {
		for _, item := range req.Items {
			total = total.Add(item.Total)
		}
	}

	result := rotrut.Calculate(req.Items, t, total)
	if req.TotalInclVat != nil && result.Exceeds(total) {
		respondError(w, http.StatusUnprocessableEntity, "totalInclVat is smaller than the deduction",
			fmt.Errorf("deduction %s exceeds total %s", result.Deduction, total))
		return
	}

	respondJSON(w, http.StatusOK, DeductionResponse{
		Result:  result,
		Rounded: result.Rounded(),
	})
}

// Personnummer validation handler
func (s *Server) handleValidatePersonnummer(w http.ResponseWriter, r *http.Request) {
	var req ValidatePersonnummerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	resp := ValidatePersonnummerResponse{Valid: rotrut.Validate(req.Personnummer)}
	if resp.Valid {
		resp.Formatted = rotrut.Format(req.Personnummer, s.now())
	}

	respondJSON(w, http.StatusOK, resp)
}

// List tenants handler
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenants.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}

	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

// Create tenant handler
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	b, err := s.tenants.Create(r.Context(), req.Name, req.OrgNumber)
	var verr *tenant.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusBadRequest, "invalid tenant", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	respondJSON(w, http.StatusCreated, b)
}

// Get tenant handler
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, tenantFrom(r.Context()))
}

// Get automation settings handler
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	b := tenantFrom(r.Context())

	settings, err := s.settings.Get(r.Context(), b.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load automation settings", err)
		return
	}

	respondJSON(w, http.StatusOK, settings)
}

// Patch automation settings handler
func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	b := tenantFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	patch, err := automation.ParsePatch(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid settings patch", err)
		return
	}

	updated, err := s.settings.Update(r.Context(), b.ID, patch)
	var verr *automation.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusUnprocessableEntity, "invalid automation settings", err)
		return
	}
	var syncErr *automation.SyncError
	if errors.As(err, &syncErr) {
		respondError(w, http.StatusInternalServerError, "failed to save "+syncErr.Target, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save automation settings", err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// List deals handler
func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	b := tenantFrom(r.Context())

	var (
		deals []*pipeline.Deal
		err   error
	)
	if phone := strings.TrimSpace(r.URL.Query().Get("phone")); phone != "" {
		deals, err = s.deals.ListByPhone(r.Context(), b.ID, phone)
	} else {
		deals, err = s.deals.ListDeals(r.Context(), b.ID)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deals", err)
		return
	}
	if deals == nil {
		deals = []*pipeline.Deal{}
	}

	respondJSON(w, http.StatusOK, DealsListResponse{Deals: deals})
}

// Transcription complete handler. Automation failures come back as outcomes
// with status 200; only malformed events are rejected.
func (s *Server) handleTranscriptionComplete(w http.ResponseWriter, r *http.Request) {
	var ev pipeline.CallEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if ev.CallID == "" || ev.TenantID == "" || strings.TrimSpace(ev.Transcript) == "" {
		respondError(w, http.StatusBadRequest, "callId, businessId and transcript are required", nil)
		return
	}

	if _, status, err := s.lookupTenant(r.Context(), ev.TenantID); err != nil {
		respondError(w, status, "tenant not found", err)
		return
	}

	respondJSON(w, http.StatusOK, s.automator.ProcessClassifiedCall(r.Context(), ev))
}

// Quote accepted handler
func (s *Server) handleQuoteAccepted(w http.ResponseWriter, r *http.Request) {
	s.handleDealEvent(w, r, s.automator.OnQuoteAccepted)
}

// Invoice paid handler
func (s *Server) handleInvoicePaid(w http.ResponseWriter, r *http.Request) {
	s.handleDealEvent(w, r, s.automator.OnInvoicePaid)
}

func (s *Server) handleDealEvent(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, tenantID, dealID string) pipeline.Outcome) {
	var req DealEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.BusinessID == "" || req.DealID == "" {
		respondError(w, http.StatusBadRequest, "businessId and dealId are required", nil)
		return
	}

	if _, status, err := s.lookupTenant(r.Context(), req.BusinessID); err != nil {
		respondError(w, status, "tenant not found", err)
		return
	}

	respondJSON(w, http.StatusOK, apply(r.Context(), req.BusinessID, req.DealID))
}

// Helper functions
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}
	if server.rdb != nil {
		defer server.rdb.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
