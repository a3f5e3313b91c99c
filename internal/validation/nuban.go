// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// nubanWeights — веса алгоритма NUBAN для 12 цифр: код банка плюс серийный номер счёта.
var nubanWeights = [12]int{3, 7, 3, 3, 7, 3, 3, 7, 3, 3, 7, 3}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidNUBAN проверяет корректность номера счёта по алгоритму NUBAN ЦБ Нигерии:
// номер счёта состоит из 10 цифр, последняя — контрольная, вычисляемая по
// трёхзначному коду банка и девяти цифрам серийного номера. Для шестизначных
// кодов новых банков контрольная цифра не проверяется.
func IsValidNUBAN(bankCode, accountNumber string) bool {
	if !digitsOnly(accountNumber) || len(accountNumber) != 10 {
		return false
	}
	if !digitsOnly(bankCode) {
		return false
	}

	if len(bankCode) != 3 {
		return len(bankCode) == 6
	}

	sum := 0
	digits := bankCode + accountNumber[:9]
	for i, ch := range digits {
		sum += int(ch-'0') * nubanWeights[i]
	}

	check := (10 - sum%10) % 10

	return check == int(accountNumber[9]-'0')
}
