package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/logger"
	"satisledger/backend/internal/service"
	"satisledger/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	log           *zap.Logger
}

type Options struct {
	AllowedOrigin          string
	LoginAttemptsPerMinute int
}

func New(svc *service.Service, auth *AuthManager, opts Options, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Warn("crypto/rand unavailable, using fallback csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(opts.LoginAttemptsPerMinute, time.Minute),
		csrfSecret:    csrfSecret,
		log:           log.Named("http"),
	}
}

// csrfTokenForHour computes a hex HMAC-SHA256 token for an hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	const anyRole, adminOnly = "", domain.RoleAdmin

	route := func(pattern string, h http.HandlerFunc, role string) {
		if role == "" {
			mux.HandleFunc(pattern, a.requireAuth(h))
			return
		}
		mux.HandleFunc(pattern, a.requireAuth(h, role))
	}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	route("GET /api/v1/auth/me", a.handleMe, anyRole)

	route("GET /api/v1/products", a.handleListProducts, anyRole)
	route("POST /api/v1/products", a.handleCreateProduct, anyRole)
	route("PATCH /api/v1/products/{id}", a.handleUpdateProduct, anyRole)
	route("DELETE /api/v1/products/{id}", a.handleArchiveProduct, adminOnly)
	route("GET /api/v1/products/{id}/cost", a.handleGetProductCost, anyRole)
	route("PUT /api/v1/products/{id}/cost", a.handleSaveProductCost, adminOnly)
	route("GET /api/v1/product-costs", a.handleListProductCosts, anyRole)

	route("GET /api/v1/customers", a.handleListCustomers, anyRole)
	route("POST /api/v1/customers", a.handleCreateCustomer, anyRole)
	route("GET /api/v1/customers/{id}", a.handleCustomerDetail, anyRole)
	route("PATCH /api/v1/customers/{id}", a.handleUpdateCustomer, anyRole)
	route("DELETE /api/v1/customers/{id}", a.handleDeleteCustomer, adminOnly)
	route("POST /api/v1/customers/{id}/collections", a.handleCollectGeneral, anyRole)
	route("POST /api/v1/customers/{id}/adjustments", a.handleAdjustBalance, adminOnly)

	route("GET /api/v1/sales", a.handleListSales, anyRole)
	route("POST /api/v1/sales", a.handleCreateSale, anyRole)
	route("GET /api/v1/sales/{id}", a.handleGetSale, anyRole)
	route("PUT /api/v1/sales/{id}", a.handleEditSale, adminOnly)
	route("PATCH /api/v1/sales/{id}/payment-status", a.handlePaymentStatus, anyRole)
	route("PATCH /api/v1/sales/{id}/delivery", a.handleDelivery, anyRole)
	route("POST /api/v1/sales/{id}/cancel", a.handleCancelSale, adminOnly)
	route("POST /api/v1/sales/{id}/collections", a.handleCollectForSale, anyRole)
	route("POST /api/v1/sales/{id}/return", a.handleProcessReturn, anyRole)
	route("PATCH /api/v1/sales/{id}/return/payment", a.handleReturnPayment, anyRole)

	route("GET /api/v1/transactions", a.handleListTransactions, anyRole)

	route("GET /api/v1/tasks", a.handleListTasks, anyRole)
	route("POST /api/v1/tasks", a.handleCreateTask, anyRole)
	route("POST /api/v1/tasks/{id}/transitions", a.handleTransitionTask, anyRole)
	route("DELETE /api/v1/tasks/{id}", a.handleDeleteTask, adminOnly)

	route("GET /api/v1/settings", a.handleGetSettings, anyRole)
	route("PUT /api/v1/settings", a.handleUpdateSettings, adminOnly)
	route("GET /api/v1/activity-logs", a.handleActivityLogs, anyRole)
	route("GET /api/v1/reports/sales-summary", a.handleSalesSummary, anyRole)
	route("POST /api/v1/admin/reconcile", a.handleReconcile, adminOnly)

	route("GET /api/v1/users", a.handleListUsers, adminOnly)
	route("POST /api/v1/users", a.handleCreateUser, adminOnly)
	route("DELETE /api/v1/users/{username}", a.handleDeleteUser, adminOnly)

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	a.service.RecordLogin(r.Context(), domain.Actor{Username: resp.Username, Name: resp.Name, Role: resp.Role})

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": actor})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the CSRF token on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if !isMutating(r.Method) {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	products, err := a.service.ListProducts(r.Context(), includeArchived)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleArchiveProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.ArchiveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleGetProductCost(w http.ResponseWriter, r *http.Request) {
	cost, err := a.service.GetProductCost(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

func (a *API) handleSaveProductCost(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cost, err := a.service.SaveProductCost(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cost)
}

func (a *API) handleListProductCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := a.service.ListProductCosts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"costs": costs})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleCustomerDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetCustomerDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCustomer(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCollectGeneral(w http.ResponseWriter, r *http.Request) {
	var req domain.CollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.CustomerID = r.PathValue("id")
	req.SaleID = ""
	resp, err := a.service.CollectGeneral(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req domain.BalanceAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.AdjustCustomerBalance(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(q.Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		From:       from,
		To:         to,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale, "grand_total": sale.GrandTotal()})
}

func (a *API) handleEditSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.EditSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.UpdatePaymentStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleDelivery(w http.ResponseWriter, r *http.Request) {
	var req domain.DeliveryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.UpdateDelivery(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.CancelSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCollectForSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.SaleID = r.PathValue("id")
	resp, err := a.service.CollectForSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.ProcessReturn(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReturnPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.UpdateReturnPayment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := a.service.ListTransactions(r.Context(), domain.TransactionFilter{
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		SaleID:     strings.TrimSpace(q.Get("sale_id")),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.service.ListTasks(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req domain.TaskCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := a.service.CreateTask(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (a *API) handleTransitionTask(w http.ResponseWriter, r *http.Request) {
	var req domain.TaskTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	task, err := a.service.TransitionTask(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.AppSettings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListActivityLogs(r.Context(), domain.ActivityFilter{
		ActorUsername: strings.ToLower(strings.TrimSpace(q.Get("actor"))),
		Entity:        domain.ActivityEntity(strings.ToUpper(strings.TrimSpace(q.Get("entity")))),
		Limit:         parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(q.Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), from, to)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(q.Get("format")), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"sales-summary-%s.csv\"", summary.From.Format("2006-01-02")))
		if err := writeSummaryCSV(w, summary); err != nil {
			a.log.Warn("csv export failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))
	report, err := a.service.ReconcileBalances(r.Context(), repair)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	if err := a.auth.DeleteUser(r.Context(), actor, r.PathValue("username")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if isMutating(r.Method) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		reqLog := a.log.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), reqLog)))
		reqLog.Info("request",
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func writeSummaryCSV(w io.Writer, s domain.SalesSummary) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "from", s.From.Format(time.RFC3339)},
		{"summary", "to", s.To.Format(time.RFC3339)},
		{"summary", "sale_count", strconv.Itoa(s.SaleCount)},
		{"summary", "gift_count", strconv.Itoa(s.GiftCount)},
		{"summary", "revenue_excl_tax", s.RevenueExclTax.StringFixed(2)},
		{"summary", "revenue_incl_tax", s.RevenueInclTax.StringFixed(2)},
		{"summary", "returned_count", strconv.Itoa(s.ReturnedCount)},
		{"summary", "refund_total", s.RefundTotal.StringFixed(2)},
		{"summary", "collections_total", s.CollectionsTotal.StringFixed(2)},
		{"summary", "outstanding_receivable", s.OutstandingReceivable.StringFixed(2)},
	}
	for _, p := range s.LowStock {
		rows = append(rows, []string{"low_stock", p.DisplayName(), strconv.Itoa(p.Stock)})
	}
	for _, p := range s.PendingShipments {
		rows = append(rows, []string{"pending_shipment", p.SaleID, p.CustomerName})
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

// parseDateParam accepts RFC3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseDateParam(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError hides the message of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
