// Package model содержит доменные сущности сервиса биллинга.
package model

import "time"

// Role описывает роль учётной записи в системе.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReseller Role = "reseller"
	RoleCustomer Role = "customer"
)

// Valid сообщает, является ли значение одной из известных ролей.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReseller, RoleCustomer:
		return true
	}
	return false
}

// Plan описывает тарифный план учётной записи.
type Plan string

const (
	PlanNone    Plan = ""
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

// PlanInfo описывает позицию каталога тарифов: кредиты и цена в евроцентах.
type PlanInfo struct {
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	PriceCents  int64  `json:"price_eur"`
	Description string `json:"description"`
}

// planCatalog — фиксированная таблица тарифов. Кредиты и цены совпадают с
// продуктами, заведёнными в панели платёжного провайдера.
var planCatalog = map[Plan]PlanInfo{
	PlanStarter: {Name: "Starter", Credits: 10, PriceCents: 249, Description: "10 campañas profesionales"},
	PlanPro:     {Name: "Pro", Credits: 30, PriceCents: 590, Description: "30 campañas profesionales"},
	PlanAgency:  {Name: "Agency", Credits: 100, PriceCents: 1490, Description: "100 campañas profesionales"},
}

// PlanCredits возвращает количество кредитов, соответствующее тарифу.
// Неизвестный тариф даёт 0 кредитов.
func PlanCredits(p Plan) int64 {
	return planCatalog[p].Credits
}

// PlanPrice возвращает цену тарифа в евроцентах. Неизвестный тариф даёт 0.
func PlanPrice(p Plan) int64 {
	return planCatalog[p].PriceCents
}

// PlanCatalog возвращает каталог тарифов в порядке возрастания цены.
func PlanCatalog() []PlanInfo {
	return []PlanInfo{
		planCatalog[PlanStarter],
		planCatalog[PlanPro],
		planCatalog[PlanAgency],
	}
}

// Account представляет учётную запись: администратора, реселлера или клиента.
type Account struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash []byte
	Role         Role
	Plan         Plan
	Credits      int64
	ResellerID   *int64
	IsActive     bool
	CreatedAt    time.Time
}

// Payment описывает обработанное платёжное событие. Записи создаются только
// реконсилятором вебхуков и далее не изменяются.
type Payment struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Plan      Plan      `json:"plan"`
	Credits   int64     `json:"credits"`
	Amount    int64     `json:"amount"`
	OrderID   *string   `json:"lemon_order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance содержит остаток кредитов и тариф учётной записи.
type Balance struct {
	Credits int64 `json:"credits_remaining"`
	Plan    Plan  `json:"plan_type"`
}
