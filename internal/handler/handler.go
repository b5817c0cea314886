// Package handler содержит HTTP-обработчики API сервиса биллинга.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/adsengine/billing-system/internal/middleware"
	"github.com/adsengine/billing-system/internal/model"
	"github.com/adsengine/billing-system/internal/repository"
	"github.com/adsengine/billing-system/internal/service"
	"github.com/adsengine/billing-system/internal/webhook"
)

// webhookBodyLimit ограничивает размер тела вебхука.
const webhookBodyLimit = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Register(ctx context.Context, caller service.Caller, email, password, name string, role model.Role) (*service.AccountSummary, error)
	CreateUser(ctx context.Context, caller service.Caller, params service.CreateUserParams) (*service.AccountSummary, error)
	WhoAmI(ctx context.Context, userID int64) (*service.AccountSummary, error)
	Balance(ctx context.Context, userID int64) (*model.Balance, error)
	AddCredits(ctx context.Context, caller service.Caller, targetID, amount int64) (int64, error)
	History(ctx context.Context, userID int64) ([]model.Payment, error)
	Plans() []model.PlanInfo
	Overview(ctx context.Context, caller service.Caller) (*service.Overview, error)
	ResellerClients(ctx context.Context, caller service.Caller) (*service.ClientsReport, error)
	DeleteAccount(ctx context.Context, caller service.Caller, id int64) error
	CountCampaigns(ctx context.Context, userID int64) (int64, error)
}

// Reconciler определяет контракт обработки платёжных событий провайдера.
type Reconciler interface {
	Process(ctx context.Context, rawBody []byte, signature string) (webhook.Outcome, error)
}

// Handler реализует HTTP-обработчики API сервиса биллинга.
type Handler struct {
	service        Service
	reconciler     Reconciler
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, rec Reconciler, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		reconciler:     rec,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// respondError переводит ошибку бизнес-логики в HTTP-статус. Детали
// внутренних ошибок логируются и не возвращаются вызывающему.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, service.ErrInvalidCredentials.Error())
	case errors.Is(err, service.ErrAccountInactive):
		h.writeError(w, http.StatusUnauthorized, service.ErrAccountInactive.Error())
	case errors.Is(err, service.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, repository.ErrAccountExists):
		h.writeError(w, http.StatusConflict, "email is already registered")
	case errors.Is(err, repository.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "account not found")
	default:
		h.logger.Error("internal error", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "server error")
	}
}

func (h *Handler) caller(r *http.Request) (service.Caller, bool) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		return service.Caller{}, false
	}
	return service.Caller{
		ID:    ident.UserID,
		Role:  ident.Role,
		Email: ident.Email,
	}, true
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и выпуск токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type registerRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Name     string     `json:"name"`
	Role     model.Role `json:"role"`
}

// Register создаёт учётную запись от имени администратора или реселлера.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	acc, err := h.service.Register(r.Context(), caller, req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{"user": acc})
}

// Me возвращает сводку учётной записи вызывающего.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acc, err := h.service.WhoAmI(r.Context(), caller.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"user": acc})
}

// Balance возвращает остаток кредитов и тариф вызывающего.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	balance, err := h.service.Balance(r.Context(), caller.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

type addCreditsRequest struct {
	UserID  int64 `json:"user_id"`
	Credits int64 `json:"credits"`
}

// AddCredits начисляет кредиты целевой учётной записи. Доступно администратору
// и реселлеру; реселлер может пополнять только своих клиентов.
func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req addCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	balance, err := h.service.AddCredits(r.Context(), caller, req.UserID, req.Credits)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"credits": model.Balance{Credits: balance},
	})
}

// History возвращает историю платежей вызывающего.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	payments, err := h.service.History(r.Context(), caller.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if payments == nil {
		payments = []model.Payment{}
	}

	h.writeJSON(w, http.StatusOK, payments)
}

// Plans возвращает публичный каталог тарифов.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Plans())
}

// AdminOverview возвращает агрегированные данные панели администратора.
func (h *Handler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	overview, err := h.service.Overview(r.Context(), caller)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, overview)
}

type createUserRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	Name       string     `json:"name"`
	Plan       model.Plan `json:"plan_type"`
	Role       model.Role `json:"role"`
	ResellerID *int64     `json:"reseller_id"`
}

// AdminCreateUser создаёт учётную запись любой роли с начислением по тарифу.
func (h *Handler) AdminCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if caller.Role != model.RoleAdmin {
		h.writeError(w, http.StatusForbidden, "access denied")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	acc, err := h.service.CreateUser(r.Context(), caller, service.CreateUserParams{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Plan:       req.Plan,
		Role:       req.Role,
		ResellerID: req.ResellerID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{"user": acc})
}

// ResellerCreateUser создаёт клиента, привязанного к вызывающему реселлеру.
func (h *Handler) ResellerCreateUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	acc, err := h.service.CreateUser(r.Context(), caller, service.CreateUserParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Plan:     req.Plan,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{"user": acc})
}

// AdminDeleteUser удаляет учётную запись по идентификатору.
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed account id")
		return
	}

	if err := h.service.DeleteAccount(r.Context(), caller, id); err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ResellerClients возвращает клиентов вызывающего реселлера и статистику по ним.
func (h *Handler) ResellerClients(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	report, err := h.service.ResellerClients(r.Context(), caller)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// CampaignsCount возвращает количество кампаний вызывающего.
func (h *Handler) CampaignsCount(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	total, err := h.service.CountCampaigns(r.Context(), caller.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}

// LemonWebhook принимает платёжные события провайдера. Тело читается сырым:
// подпись проверяется до какого-либо разбора. Ответ 5xx означает, что
// провайдеру следует повторить доставку; 4xx — что повторять бессмысленно.
func (h *Handler) LemonWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	defer r.Body.Close()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outcome, err := h.reconciler.Process(r.Context(), rawBody, r.Header.Get("X-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrBadSignature):
			h.writeError(w, http.StatusUnauthorized, "invalid signature")
		case errors.Is(err, webhook.ErrMalformedEvent):
			h.writeError(w, http.StatusBadRequest, "malformed payload")
		case errors.Is(err, webhook.ErrMissingEmail):
			h.writeError(w, http.StatusBadRequest, "missing customer email")
		default:
			h.logger.Error("webhook processing error", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}

	switch outcome {
	case webhook.OutcomeApplied, webhook.OutcomeDuplicate:
		h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

// Health возвращает признак готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
