package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/adsengine/billing-system/internal/middleware"
	"github.com/adsengine/billing-system/internal/model"
	"github.com/adsengine/billing-system/internal/service"
	"github.com/adsengine/billing-system/internal/webhook"
)

type stubService struct {
	loginResult *service.LoginResult
	loginErr    error

	registerResult *service.AccountSummary
	registerErr    error

	createResult *service.AccountSummary
	createErr    error

	whoAmIResult *service.AccountSummary
	whoAmIErr    error

	balanceResult *model.Balance
	balanceErr    error

	addCreditsBalance int64
	addCreditsErr     error

	historyResult []model.Payment
	historyErr    error

	overviewResult *service.Overview
	overviewErr    error

	clientsResult *service.ClientsReport
	clientsErr    error

	deleteErr error

	campaignsTotal int64
	campaignsErr   error
}

func (s *stubService) Login(ctx context.Context, email, password string) (*service.LoginResult, error) {
	return s.loginResult, s.loginErr
}

func (s *stubService) Register(ctx context.Context, caller service.Caller, email, password, name string, role model.Role) (*service.AccountSummary, error) {
	return s.registerResult, s.registerErr
}

func (s *stubService) CreateUser(ctx context.Context, caller service.Caller, params service.CreateUserParams) (*service.AccountSummary, error) {
	return s.createResult, s.createErr
}

func (s *stubService) WhoAmI(ctx context.Context, userID int64) (*service.AccountSummary, error) {
	return s.whoAmIResult, s.whoAmIErr
}

func (s *stubService) Balance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceResult, s.balanceErr
}

func (s *stubService) AddCredits(ctx context.Context, caller service.Caller, targetID, amount int64) (int64, error) {
	return s.addCreditsBalance, s.addCreditsErr
}

func (s *stubService) History(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.historyResult, s.historyErr
}

func (s *stubService) Plans() []model.PlanInfo {
	return model.PlanCatalog()
}

func (s *stubService) Overview(ctx context.Context, caller service.Caller) (*service.Overview, error) {
	return s.overviewResult, s.overviewErr
}

func (s *stubService) ResellerClients(ctx context.Context, caller service.Caller) (*service.ClientsReport, error) {
	return s.clientsResult, s.clientsErr
}

func (s *stubService) DeleteAccount(ctx context.Context, caller service.Caller, id int64) error {
	return s.deleteErr
}

func (s *stubService) CountCampaigns(ctx context.Context, userID int64) (int64, error) {
	return s.campaignsTotal, s.campaignsErr
}

type stubReconciler struct {
	outcome webhook.Outcome
	err     error

	gotBody      []byte
	gotSignature string
}

func (s *stubReconciler) Process(ctx context.Context, rawBody []byte, signature string) (webhook.Outcome, error) {
	s.gotBody = rawBody
	s.gotSignature = signature
	return s.outcome, s.err
}

func newTestHandler(t *testing.T, svc Service, rec Reconciler) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	if rec == nil {
		rec = &stubReconciler{}
	}

	return NewHandler(svc, rec, logger, auth)
}

func authedRequest(t *testing.T, h *Handler, method, target string, body []byte, acc *model.Account) *http.Request {
	t.Helper()

	token, err := h.authMiddleware.IssueToken(acc)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestLogin_Success(t *testing.T) {
	credits := int64(30)
	svc := &stubService{
		loginResult: &service.LoginResult{
			Token: "signed-token",
			Account: &service.AccountSummary{
				ID:      42,
				Email:   "a@x.com",
				Role:    model.RoleCustomer,
				Credits: &credits,
			},
		},
	}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(loginRequest{Email: "a@x.com", Password: "password1"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got service.LoginResult
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Token != "signed-token" {
		t.Fatalf("token = %q, want signed-token", got.Token)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{loginErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(loginRequest{Email: "a@x.com", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_MalformedBody(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPlans_Public(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/credits/plans", nil)
	rec := httptest.NewRecorder()

	h.Plans(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var catalog []model.PlanInfo
	if err := json.NewDecoder(res.Body).Decode(&catalog); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(catalog) != 3 {
		t.Fatalf("catalog size = %d, want 3", len(catalog))
	}
}

func TestBalance_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/credits/balance", nil)
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.Balance))
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBalance_Success(t *testing.T) {
	svc := &stubService{
		balanceResult: &model.Balance{Credits: 12, Plan: model.PlanPro},
	}
	h := newTestHandler(t, svc, nil)

	req := authedRequest(t, h, http.MethodGet, "/api/credits/balance", nil,
		&model.Account{ID: 42, Email: "a@x.com", Role: model.RoleCustomer})
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.Balance))
	protected.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got model.Balance
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Credits != 12 || got.Plan != model.PlanPro {
		t.Fatalf("balance = %+v, want {12 pro}", got)
	}
}

func TestAddCredits_ForbiddenMapsTo403(t *testing.T) {
	svc := &stubService{addCreditsErr: service.ErrForbidden}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(addCreditsRequest{UserID: 10, Credits: 5})
	req := authedRequest(t, h, http.MethodPost, "/api/credits/add", body,
		&model.Account{ID: 7, Email: "r@x.com", Role: model.RoleReseller})
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.AddCredits))
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestAdminCreateUser_ForbiddenForReseller(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	body, _ := json.Marshal(createUserRequest{Email: "n@x.com", Password: "password1"})
	req := authedRequest(t, h, http.MethodPost, "/api/admin/users/create", body,
		&model.Account{ID: 7, Email: "r@x.com", Role: model.RoleReseller})
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.AdminCreateUser))
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHistory_EmptyIsJSONArray(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := authedRequest(t, h, http.MethodGet, "/api/credits/history", nil,
		&model.Account{ID: 42, Email: "a@x.com", Role: model.RoleCustomer})
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.History))
	protected.ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payments []model.Payment
	if err := json.NewDecoder(res.Body).Decode(&payments); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payments == nil {
		t.Fatal("empty history must decode as an empty array, not null")
	}
}

func TestLemonWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		outcome    webhook.Outcome
		err        error
		wantStatus int
	}{
		{"bad signature", 0, webhook.ErrBadSignature, http.StatusUnauthorized},
		{"malformed payload", 0, webhook.ErrMalformedEvent, http.StatusBadRequest},
		{"missing email", 0, webhook.ErrMissingEmail, http.StatusBadRequest},
		{"storage failure is retryable", 0, errors.New("apply order: connection refused"), http.StatusInternalServerError},
		{"ignored event", webhook.OutcomeIgnored, nil, http.StatusOK},
		{"applied order", webhook.OutcomeApplied, nil, http.StatusOK},
		{"duplicate delivery", webhook.OutcomeDuplicate, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stubReconciler{outcome: tt.outcome, err: tt.err}
			h := newTestHandler(t, &stubService{}, rec)

			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/lemon", strings.NewReader(`{"meta":{}}`))
			req.Header.Set("X-Signature", "abc123")
			respRec := httptest.NewRecorder()

			h.LemonWebhook(respRec, req)

			if respRec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", respRec.Code, tt.wantStatus)
			}
			if rec.gotSignature != "abc123" {
				t.Fatalf("signature = %q, want abc123", rec.gotSignature)
			}
		})
	}
}

func TestLemonWebhook_PassesRawBody(t *testing.T) {
	rec := &stubReconciler{outcome: webhook.OutcomeApplied}
	h := newTestHandler(t, &stubService{}, rec)

	raw := `{"meta":{"event_name":"order_created"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/lemon", strings.NewReader(raw))
	respRec := httptest.NewRecorder()

	h.LemonWebhook(respRec, req)

	if string(rec.gotBody) != raw {
		t.Fatalf("reconciler must receive the unmodified raw body, got %q", rec.gotBody)
	}
}

func TestAdminDeleteUser_MalformedID(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := authedRequest(t, h, http.MethodDelete, "/api/admin/users/abc", nil,
		&model.Account{ID: 1, Email: "admin@x.com", Role: model.RoleAdmin})
	rec := httptest.NewRecorder()

	protected := h.authMiddleware.Middleware(http.HandlerFunc(h.AdminDeleteUser))
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
