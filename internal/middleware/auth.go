// Package middleware содержит HTTP middleware для сервиса выплат.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const vendorIDKey contextKey = "vendorID"

const bearerPrefix = "Bearer "

// AuthMiddleware выполняет проверку сервисного токена вендора по подписи HMAC.
// Токен имеет вид "<vendor_id>.<hex(hmac-sha256)>" и передаётся в заголовке
// Authorization.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен авторизации и добавляет идентификатор вендора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		vendorID, ok := a.parseToken(strings.TrimPrefix(header, bearerPrefix))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), vendorIDKey, vendorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SignVendorID возвращает сервисный токен для указанного идентификатора вендора.
func (a *AuthMiddleware) SignVendorID(vendorID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(vendorID))
	signature := mac.Sum(nil)
	return vendorID + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseToken(token string) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return "", false
	}

	vendorID := token[:idx]
	signature := token[idx+1:]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(vendorID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return vendorID, true
}

// GetVendorIDFromContext извлекает идентификатор вендора из контекста запроса.
func GetVendorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(vendorIDKey).(string)
	return id, ok
}
