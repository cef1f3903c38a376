package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"finora/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, err, "Error fetching transactions")
		return
	}

	transactions, err := h.service.List(r.Context(), principal.ID, filter)
	if err != nil {
		h.fail(w, err, "Error fetching transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    transactions,
		"total":   len(transactions),
	})
}

func (h *Handler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = parsed
	}

	transactions, err := h.service.Recent(r.Context(), principal.ID, limit)
	if err != nil {
		h.fail(w, err, "Error fetching recent transactions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": transactions})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var input TransactionInput
	if !decode(w, r, &input) {
		return
	}

	t, err := h.service.Create(r.Context(), principal.ID, input)
	if err != nil {
		h.fail(w, err, "Error creating transaction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Transaction created successfully",
		"data":    t,
	})
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var input TransactionInput
	if !decode(w, r, &input) {
		return
	}

	t, err := h.service.Update(r.Context(), principal.ID, r.PathValue("id"), input)
	if err != nil {
		h.fail(w, err, "Error updating transaction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Transaction updated successfully",
		"data":    t,
	})
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), principal.ID, r.PathValue("id")); err != nil {
		h.fail(w, err, "Error deleting transaction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Transaction deleted successfully"})
}

func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	month, err := optionalInt(r, "month")
	if err != nil {
		h.fail(w, err, "Error fetching budgets")
		return
	}
	year, err := optionalInt(r, "year")
	if err != nil {
		h.fail(w, err, "Error fetching budgets")
		return
	}

	budgets, err := h.service.Budgets(r.Context(), principal.ID, month, year)
	if err != nil {
		h.fail(w, err, "Error fetching budgets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": budgets})
}

func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var input BudgetInput
	if !decode(w, r, &input) {
		return
	}

	b, err := h.service.CreateBudget(r.Context(), principal.ID, input)
	if err != nil {
		h.fail(w, err, "Error creating budget")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Budget created successfully",
		"data":    b,
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error, internalMessage string) {
	var validationErr *ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, ErrBudgetExists):
		writeError(w, http.StatusConflict, "Budget already exists for this category and month")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, internalMessage)
	}
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Profile, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		auth.WriteError(w, auth.ErrUnauthorized)
		return auth.Profile{}, false
	}
	return principal, true
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		Ascending: strings.EqualFold(q.Get("sortOrder"), "asc"),
	}
	if category := q.Get("category"); category != "" && category != "all" {
		filter.Category = category
	}
	if kind := q.Get("type"); kind != "" && kind != "all" {
		filter.Type = Kind(kind)
	}

	var err error
	if filter.From, err = parseDate(q.Get("startDate"), false); err != nil {
		return Filter{}, invalid("startDate is not a valid date")
	}
	if filter.To, err = parseDate(q.Get("endDate"), true); err != nil {
		return Filter{}, invalid("endDate is not a valid date")
	}
	return filter, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain end date
// covers its whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return &t, nil
}

func optionalInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("%s must be a number", name)
	}
	return value, nil
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
