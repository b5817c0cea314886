// Package service реализует бизнес-логику сервиса биллинга.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adsengine/billing-system/internal/model"
	"github.com/adsengine/billing-system/internal/policy"
	"github.com/adsengine/billing-system/internal/repository"
	"github.com/adsengine/billing-system/internal/validation"
)

const historyLimit = 50

// ErrInvalidCredentials возвращается при неверном email или пароле.
// Для неизвестного email и неверного пароля ошибка одна и та же,
// чтобы не раскрывать существование учётной записи.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountInactive возвращается при попытке входа в деактивированную запись.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrForbidden возвращается, если вызывающему не хватает прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("invalid input")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, acc *model.Account) (int64, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (*model.Account, error)
	AddCredits(ctx context.Context, accountID int64, amount int64) (int64, error)
	DeleteAccount(ctx context.Context, id int64) error
	ListCustomers(ctx context.Context) ([]model.Account, error)
	ListResellers(ctx context.Context) ([]repository.ResellerSummary, error)
	ListClientsOfReseller(ctx context.Context, resellerID int64) ([]model.Account, error)
	CountCampaigns(ctx context.Context) (int64, error)
	CountCampaignsByOwner(ctx context.Context, userID int64) (int64, error)
	CountCampaignsByReseller(ctx context.Context, resellerID int64) (int64, error)
	SumClientCredits(ctx context.Context, resellerID int64) (int64, error)
	ListPaymentsByEmail(ctx context.Context, email string, limit int) ([]model.Payment, error)
}

// TokenIssuer выпускает подписанные токены доступа для учётной записи.
type TokenIssuer interface {
	IssueToken(acc *model.Account) (string, error)
}

// Caller описывает аутентифицированного вызывающего операции.
type Caller struct {
	ID    int64
	Role  model.Role
	Email string
}

// Service содержит бизнес-логику сервиса биллинга.
type Service struct {
	repo   Repository
	tokens TokenIssuer
}

// NewService создаёт новый сервис с указанным репозиторием и эмитентом токенов.
func NewService(repo Repository, tokens TokenIssuer) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// AccountSummary описывает учётную запись в ответах API. Остаток кредитов
// включается только для клиентских записей.
type AccountSummary struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name,omitempty"`
	Role       model.Role `json:"role"`
	Plan       model.Plan `json:"plan_type,omitempty"`
	Credits    *int64     `json:"credits_remaining,omitempty"`
	ResellerID *int64     `json:"reseller_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func summarize(acc *model.Account) *AccountSummary {
	sum := &AccountSummary{
		ID:         acc.ID,
		Email:      acc.Email,
		Name:       acc.Name,
		Role:       acc.Role,
		Plan:       acc.Plan,
		ResellerID: acc.ResellerID,
		CreatedAt:  acc.CreatedAt,
	}
	if acc.Role == model.RoleCustomer {
		credits := acc.Credits
		sum.Credits = &credits
	}
	return sum
}

// LoginResult содержит выпущенный токен и сводку учётной записи.
type LoginResult struct {
	Token   string          `json:"token"`
	Account *AccountSummary `json:"user"`
}

// Login аутентифицирует пользователя по email и паролю и выпускает токен доступа.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !acc.IsActive {
		return nil, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.IssueToken(acc)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &LoginResult{
		Token:   token,
		Account: summarize(acc),
	}, nil
}

// Register создаёт учётную запись от имени администратора или реселлера.
// Реселлер может создавать только клиентов, и новая запись привязывается к нему.
func (s *Service) Register(ctx context.Context, caller Caller, email, password, name string, role model.Role) (*AccountSummary, error) {
	if !policy.IsResellerOrAdmin(caller.Role) {
		return nil, ErrForbidden
	}

	email = validation.NormalizeEmail(email)
	if email == "" || password == "" || name == "" {
		return nil, fmt.Errorf("%w: email, password and name are required", ErrValidation)
	}
	if !validation.IsValidEmail(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrValidation)
	}

	if role == "" {
		role = model.RoleCustomer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	var resellerID *int64
	if caller.Role == model.RoleReseller {
		if role != model.RoleCustomer {
			return nil, ErrForbidden
		}
		id := caller.ID
		resellerID = &id
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &model.Account{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		Plan:         model.PlanNone,
		Credits:      0,
		ResellerID:   resellerID,
		IsActive:     true,
	}

	id, err := s.repo.CreateAccount(ctx, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id

	return summarize(acc), nil
}

// CreateUserParams описывает параметры создания учётной записи из панелей
// администратора и реселлера.
type CreateUserParams struct {
	Email      string
	Password   string
	Name       string
	Plan       model.Plan
	Role       model.Role
	ResellerID *int64
}

// resellerDefaultCredits — стартовый грант клиента реселлера при неизвестном тарифе.
const resellerDefaultCredits = 10

// CreateUser создаёт учётную запись с начислением кредитов по тарифу.
// Администратор задаёт любую роль и привязку; реселлеру запись всегда
// создаётся как его клиент.
func (s *Service) CreateUser(ctx context.Context, caller Caller, params CreateUserParams) (*AccountSummary, error) {
	if !policy.IsResellerOrAdmin(caller.Role) {
		return nil, ErrForbidden
	}

	email := validation.NormalizeEmail(params.Email)
	if email == "" || !validation.IsValidPassword(params.Password) {
		return nil, fmt.Errorf("%w: email and password (min 8 chars) are required", ErrValidation)
	}

	role := params.Role
	resellerID := params.ResellerID
	credits := model.PlanCredits(params.Plan)

	if policy.IsAdmin(caller.Role) {
		if role == "" {
			role = model.RoleCustomer
		}
		if !role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
		}
	} else {
		role = model.RoleCustomer
		id := caller.ID
		resellerID = &id
		if credits == 0 {
			credits = resellerDefaultCredits
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc := &model.Account{
		Email:        email,
		Name:         params.Name,
		PasswordHash: hash,
		Role:         role,
		Plan:         params.Plan,
		Credits:      credits,
		ResellerID:   resellerID,
		IsActive:     true,
	}

	id, err := s.repo.CreateAccount(ctx, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id

	return summarize(acc), nil
}

// WhoAmI возвращает сводку учётной записи вызывающего.
func (s *Service) WhoAmI(ctx context.Context, userID int64) (*AccountSummary, error) {
	acc, err := s.repo.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return summarize(acc), nil
}

// Balance возвращает остаток кредитов и тариф учётной записи.
func (s *Service) Balance(ctx context.Context, userID int64) (*model.Balance, error) {
	acc, err := s.repo.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Credits: acc.Credits,
		Plan:    acc.Plan,
	}, nil
}

// AddCredits начисляет кредиты целевой учётной записи. Проверка прав
// выполняется до выполнения каких-либо изменяющих запросов; сам инкремент
// атомарный.
func (s *Service) AddCredits(ctx context.Context, caller Caller, targetID int64, amount int64) (int64, error) {
	if amount < 1 {
		return 0, fmt.Errorf("%w: credits must be a positive integer", ErrValidation)
	}

	if !policy.IsResellerOrAdmin(caller.Role) {
		return 0, ErrForbidden
	}

	target, err := s.repo.GetAccountByID(ctx, targetID)
	if err != nil {
		return 0, err
	}

	if !policy.Owns(caller.Role, caller.ID, target) {
		return 0, ErrForbidden
	}

	return s.repo.AddCredits(ctx, targetID, amount)
}

// History возвращает историю платежей учётной записи.
func (s *Service) History(ctx context.Context, userID int64) ([]model.Payment, error) {
	acc, err := s.repo.GetAccountByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByEmail(ctx, acc.Email, historyLimit)
}

// Plans возвращает публичный каталог тарифов.
func (s *Service) Plans() []model.PlanInfo {
	return model.PlanCatalog()
}

// Overview содержит агрегированные данные для панели администратора.
type Overview struct {
	Users          []AccountSummary             `json:"users"`
	Resellers      []repository.ResellerSummary `json:"resellers"`
	TotalClients   int                          `json:"total_clients"`
	TotalResellers int                          `json:"total_resellers"`
	TotalCampaigns int64                        `json:"total_campaigns"`
}

// Overview собирает данные панели администратора одним вызовом.
func (s *Service) Overview(ctx context.Context, caller Caller) (*Overview, error) {
	if !policy.IsAdmin(caller.Role) {
		return nil, ErrForbidden
	}

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	resellers, err := s.repo.ListResellers(ctx)
	if err != nil {
		return nil, err
	}

	campaigns, err := s.repo.CountCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]AccountSummary, 0, len(customers))
	for i := range customers {
		users = append(users, *summarize(&customers[i]))
	}

	return &Overview{
		Users:          users,
		Resellers:      resellers,
		TotalClients:   len(users),
		TotalResellers: len(resellers),
		TotalCampaigns: campaigns,
	}, nil
}

// ClientsReport содержит клиентов реселлера и статистику по ним.
type ClientsReport struct {
	Clients          []AccountSummary `json:"clients"`
	TotalClients     int              `json:"total_clients"`
	TotalCampaigns   int64            `json:"total_campaigns"`
	TotalCreditsSold int64            `json:"total_credits_sold"`
}

// ResellerClients возвращает клиентов вызывающего реселлера и статистику по ним.
func (s *Service) ResellerClients(ctx context.Context, caller Caller) (*ClientsReport, error) {
	if !policy.IsResellerOrAdmin(caller.Role) {
		return nil, ErrForbidden
	}

	clients, err := s.repo.ListClientsOfReseller(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	campaigns, err := s.repo.CountCampaignsByReseller(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	creditsSold, err := s.repo.SumClientCredits(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	res := make([]AccountSummary, 0, len(clients))
	for i := range clients {
		res = append(res, *summarize(&clients[i]))
	}

	return &ClientsReport{
		Clients:          res,
		TotalClients:     len(res),
		TotalCampaigns:   campaigns,
		TotalCreditsSold: creditsSold,
	}, nil
}

// DeleteAccount удаляет учётную запись. Операция доступна только администратору.
func (s *Service) DeleteAccount(ctx context.Context, caller Caller, id int64) error {
	if !policy.IsAdmin(caller.Role) {
		return ErrForbidden
	}
	return s.repo.DeleteAccount(ctx, id)
}

// CountCampaigns возвращает количество кампаний вызывающего.
func (s *Service) CountCampaigns(ctx context.Context, userID int64) (int64, error) {
	return s.repo.CountCampaignsByOwner(ctx, userID)
}
