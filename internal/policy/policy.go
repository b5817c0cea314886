// Package policy содержит чистые предикаты контроля доступа.
// Предикаты не выполняют I/O: все проверки делаются до выполнения запросов к БД.
package policy

import "github.com/adsengine/billing-system/internal/model"

// IsAdmin сообщает, обладает ли роль правами администратора.
func IsAdmin(role model.Role) bool {
	return role == model.RoleAdmin
}

// IsResellerOrAdmin сообщает, может ли роль управлять клиентскими учётными записями.
func IsResellerOrAdmin(role model.Role) bool {
	switch role {
	case model.RoleAdmin, model.RoleReseller:
		return true
	case model.RoleCustomer:
		return false
	}
	return false
}

// Owns сообщает, вправе ли вызывающий изменять целевую учётную запись:
// администратор — любую, реселлер — только привязанных к нему клиентов.
func Owns(callerRole model.Role, callerID int64, target *model.Account) bool {
	if target == nil {
		return false
	}
	switch callerRole {
	case model.RoleAdmin:
		return true
	case model.RoleReseller:
		return target.ResellerID != nil && *target.ResellerID == callerID
	case model.RoleCustomer:
		return false
	}
	return false
}
