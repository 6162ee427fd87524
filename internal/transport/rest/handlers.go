package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dropspot/drop-service/internal/domain"
	appCtx "github.com/dropspot/drop-service/internal/pkg/context"
	"github.com/dropspot/drop-service/internal/service"
	"github.com/dropspot/drop-service/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Handler struct {
	svc   *service.DropService
	clock domain.Clock
}

func NewHandler(svc *service.DropService, clock domain.Clock) *Handler {
	if clock == nil {
		clock = domain.ClockFunc(time.Now)
	}
	return &Handler{svc: svc, clock: clock}
}

// dropView adds the derived status label to the stored drop for responses.
type dropView struct {
	domain.Drop
	Status domain.DropStatus `json:"status"`
}

func (h *Handler) view(d domain.Drop) dropView {
	return dropView{Drop: d, Status: d.Status(h.clock.Now())}
}

func traceID(r *http.Request) string {
	tid := appCtx.GetRequestID(r.Context())
	if tid == "" {
		tid = "no-request-id"
	}
	return tid
}

func dropIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "dropID"))
	return id, err == nil
}

// ---- catalog reads ----

func (h *Handler) ListDrops(w http.ResponseWriter, r *http.Request) {
	drops, err := h.svc.ListDrops(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}
	items := make([]dropView, 0, len(drops))
	for _, d := range drops {
		items = append(items, h.view(d))
	}
	response.Data(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) GetDrop(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", map[string]string{
			"drop_id": "must be a valid uuid",
		})
		return
	}
	d, err := h.svc.GetDrop(r.Context(), dropID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, h.view(d))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	stats, err := h.svc.GetStats(r.Context(), dropID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, stats)
}

// ---- waitlist ----

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", map[string]string{
			"drop_id": "must be a valid uuid",
		})
		return
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	// Body is optional: a bare join scores with zeroed signals.
	var req struct {
		SignupLatencyMs  int `json:"signup_latency_ms"`
		AccountAgeDays   int `json:"account_age_days"`
		RapidActionCount int `json:"rapid_action_count"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
			return
		}
	}

	entry, existed, err := h.svc.Join(r.Context(), traceID(r), dropID, auth.UserID, service.ScoreInputs{
		SignupLatencyMs:  req.SignupLatencyMs,
		AccountAgeDays:   req.AccountAgeDays,
		RapidActionCount: req.RapidActionCount,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	response.Data(w, status, entry)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	removed, err := h.svc.Leave(r.Context(), traceID(r), dropID, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	rank, err := h.svc.Rank(r.Context(), dropID, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]int{"rank": rank})
}

func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	entries, err := h.svc.ListWaitlist(r.Context(), dropID, auth.Role, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": entries})
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 100
	}
	return n
}

// ---- claims ----

// Claim maps the structured decision onto status codes: a fresh admission is
// 201, a repeat claim 200, and a rejection 409 with the decision in the body
// so clients see reason, rank and remaining stock.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", map[string]string{
			"drop_id": "must be a valid uuid",
		})
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	dec, err := h.svc.Claim(r.Context(), traceID(r), dropID, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	status := http.StatusOK
	switch dec.Outcome {
	case domain.ClaimAdmitted:
		status = http.StatusCreated
	case domain.ClaimRejected:
		status = http.StatusConflict
	}
	response.Data(w, status, dec)
}

func (h *Handler) ClaimByCode(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	claim, err := h.svc.GetClaimByCode(r.Context(), chi.URLParam(r, "code"), auth.Role)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, claim)
}

// ---- me ----

func (h *Handler) MeWaitlist(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	entries, err := h.svc.ListMyWaitlist(r.Context(), auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) MeClaims(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	claims, err := h.svc.ListMyClaims(r.Context(), auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": claims})
}

// ---- admin catalog ----

func (h *Handler) CreateDrop(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Title       string    `json:"title"`
		Description string    `json:"description"`
		ImageURL    string    `json:"image_url"`
		TotalStock  int       `json:"total_stock"`
		WindowStart time.Time `json:"claim_window_start"`
		WindowEnd   time.Time `json:"claim_window_end"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	d, err := h.svc.CreateDrop(r.Context(), auth.UserID, auth.Role, service.CreateDropParams{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		TotalStock:  req.TotalStock,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, h.view(d))
}

func (h *Handler) UpdateDrop(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		ImageURL    *string    `json:"image_url"`
		WindowStart *time.Time `json:"claim_window_start"`
		WindowEnd   *time.Time `json:"claim_window_end"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	d, err := h.svc.UpdateDrop(r.Context(), auth.UserID, auth.Role, dropID, service.UpdateDropParams{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, h.view(d))
}

func (h *Handler) DeleteDrop(w http.ResponseWriter, r *http.Request) {
	dropID, ok := dropIDParam(r)
	if !ok {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	if err := h.svc.DeleteDrop(r.Context(), auth.UserID, auth.Role, dropID); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"msg": "deleted"})
}

// ---- error mapping ----

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		status := http.StatusBadRequest
		if appErr.Code == domain.CodeInvalidState {
			status = http.StatusConflict
		}
		fail(w, r, status, string(appErr.Code), appErr.Message, appErr.Meta)
		return
	}

	switch {
	case errors.Is(err, domain.ErrDropNotFound):
		fail(w, r, http.StatusNotFound, "drop.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrNotOnWaitlist):
		fail(w, r, http.StatusNotFound, "waitlist.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrClaimNotFound):
		fail(w, r, http.StatusNotFound, "claim.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyClaimed):
		fail(w, r, http.StatusConflict, "claim.exists", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)
	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
