// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// NormalizeEmail приводит email к каноническому виду: без пробелов по краям,
// в нижнем регистре. Нормализация выполняется до любого обращения к хранилищу.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail проверяет минимальную корректность адреса: непустая локальная
// часть, один символ @, непустой домен с точкой.
func IsValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return false
	}
	domain := email[at+1:]
	if domain == "" || strings.ContainsAny(email, " \t") {
		return false
	}
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}

// IsValidPassword проверяет минимальную длину пароля.
func IsValidPassword(password string) bool {
	return len(password) >= 8
}
