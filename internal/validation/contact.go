// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// NormalizePhone приводит российский номер телефона к виду +7XXXXXXXXXX.
// Принимает номера из 10 цифр, а также из 11 цифр с ведущей 7 или 8.
// Возвращает false, если номер не распознан.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, ch := range raw {
		if unicode.IsDigit(ch) {
			digits.WriteRune(ch)
		}
	}

	s := digits.String()
	switch {
	case len(s) == 10:
		return "+7" + s, true
	case len(s) == 11 && (s[0] == '7' || s[0] == '8'):
		return "+7" + s[1:], true
	default:
		return "", false
	}
}

// IsValidEmail выполняет минимальную проверку адреса электронной почты.
func IsValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	dot := strings.Index(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}
	return !strings.ContainsAny(email, " \t\n")
}
