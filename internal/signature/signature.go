// Package signature выполняет проверку подписи вебхуков платёжного шлюза.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// Verify проверяет, что подпись signature соответствует HMAC-SHA512 от payload
// с ключом secret. Подпись сравнивается в константное время. Любой сбой
// трактуется как непрошедшая проверка: функция никогда не возвращает ошибку.
func Verify(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return false
	}

	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
