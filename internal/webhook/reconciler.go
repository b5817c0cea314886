// Package webhook реализует реконсиляцию платёжных событий Lemon Squeezy
// в состояние учётных записей и журнал платежей.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/adsengine/billing-system/internal/model"
	"github.com/adsengine/billing-system/internal/repository"
	"github.com/adsengine/billing-system/internal/validation"
)

// eventOrderCreated — единственное событие провайдера, приводящее к начислению кредитов.
const eventOrderCreated = "order_created"

// ErrBadSignature возвращается при отсутствующей или неверной подписи события.
var (
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent возвращается, если тело события не является корректным JSON.
	ErrMalformedEvent = errors.New("malformed webhook payload")
	// ErrMissingEmail возвращается, если в платёжном событии нет email покупателя.
	ErrMissingEmail = errors.New("missing customer email")
)

// Outcome описывает терминальное состояние обработки события.
type Outcome int

const (
	// OutcomeIgnored — событие проверено, но не относится к оплате либо
	// содержит неизвестный продукт; состояние не менялось.
	OutcomeIgnored Outcome = iota
	// OutcomeApplied — кредиты начислены, запись в журнале платежей создана.
	OutcomeApplied
	// OutcomeDuplicate — повторная доставка уже учтённого заказа; состояние не менялось.
	OutcomeDuplicate
)

// Store определяет контракт хранилища, используемый реконсилятором.
type Store interface {
	ApplyOrder(ctx context.Context, order repository.OrderApplication) (bool, error)
}

// Reconciler преобразует входящие события провайдера в изменения учётных записей.
type Reconciler struct {
	store    Store
	products map[string]model.Plan
	secret   []byte
	insecure bool
	logger   *zap.Logger
}

// NewReconciler создаёт реконсилятор. При пустом секрете события принимаются
// без проверки подписи только если установлен insecure (режим разработки).
func NewReconciler(store Store, products map[string]model.Plan, secret string, insecure bool, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		products: products,
		secret:   []byte(secret),
		insecure: insecure,
		logger:   logger,
	}
}

// VerifySignature проверяет подпись HMAC-SHA256 над сырым телом запроса.
// Сравнение выполняется за постоянное время.
func (r *Reconciler) VerifySignature(rawBody []byte, signature string) error {
	if len(r.secret) == 0 {
		if r.insecure {
			return nil
		}
		return ErrBadSignature
	}

	if signature == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}

	return nil
}

// lemonEvent описывает конверт события Lemon Squeezy в части, нужной реконсилятору.
type lemonEvent struct {
	Meta struct {
		EventName string `json:"event_name"`
	} `json:"meta"`
	Data struct {
		Attributes struct {
			UserEmail      string      `json:"user_email"`
			OrderNumber    json.Number `json:"order_number"`
			FirstOrderItem struct {
				ProductID json.Number `json:"product_id"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

// Process обрабатывает одно входящее событие: проверяет подпись над сырым
// телом, разбирает конверт, сопоставляет продукт тарифу и идемпотентно
// применяет начисление. Тело никогда не разбирается до проверки подписи.
func (r *Reconciler) Process(ctx context.Context, rawBody []byte, signature string) (Outcome, error) {
	if err := r.VerifySignature(rawBody, signature); err != nil {
		return OutcomeIgnored, err
	}

	var event lemonEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return OutcomeIgnored, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	// Провайдер присылает много типов событий; не-платёжные не являются ошибкой.
	if event.Meta.EventName != eventOrderCreated {
		r.logger.Info("webhook event ignored", zap.String("event", event.Meta.EventName))
		return OutcomeIgnored, nil
	}

	attrs := event.Data.Attributes

	email := validation.NormalizeEmail(attrs.UserEmail)
	if email == "" {
		return OutcomeIgnored, ErrMissingEmail
	}

	productID := attrs.FirstOrderItem.ProductID.String()
	plan, ok := r.products[productID]
	if !ok {
		// Неизвестный продукт может принадлежать другой интеграции.
		r.logger.Info("webhook product not mapped", zap.String("product_id", productID))
		return OutcomeIgnored, nil
	}

	var orderID *string
	if s := attrs.OrderNumber.String(); s != "" {
		orderID = &s
	}

	passwordHash, err := tempPasswordHash()
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("generate temp password: %w", err)
	}

	applied, err := r.store.ApplyOrder(ctx, repository.OrderApplication{
		Email:        email,
		Plan:         plan,
		Credits:      model.PlanCredits(plan),
		Amount:       model.PlanPrice(plan),
		OrderID:      orderID,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("apply order: %w", err)
	}

	if !applied {
		r.logger.Info("webhook order already processed", zap.String("email", email))
		return OutcomeDuplicate, nil
	}

	r.logger.Info("webhook order applied",
		zap.String("email", email),
		zap.String("plan", string(plan)),
		zap.Int64("credits", model.PlanCredits(plan)),
	)

	return OutcomeApplied, nil
}

// tempPasswordHash генерирует случайный временный пароль и возвращает его
// bcrypt-дайджест. Открытый текст нигде не сохраняется; доставка пароля
// пользователю — забота внешнего сервиса.
func tempPasswordHash() ([]byte, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
}
