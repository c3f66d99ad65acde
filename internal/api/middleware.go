package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/terra-clan/mission-bot/internal/models"
)

// AuthMiddleware handles API key authentication against a static key set
type AuthMiddleware struct {
	clients []*models.ApiClient
}

// NewAuthMiddleware creates auth middleware. Full keys get every
// permission, read-only keys can only list and watch.
func NewAuthMiddleware(fullKeys, readOnlyKeys []string) *AuthMiddleware {
	m := &AuthMiddleware{}
	for _, k := range fullKeys {
		m.clients = append(m.clients, models.ParseApiClient(k, []string{"*"}))
	}
	for _, k := range readOnlyKeys {
		m.clients = append(m.clients, models.ParseApiClient(k, models.ReadOnlyPermissions))
	}
	return m
}

// Enabled reports whether any key is configured
func (m *AuthMiddleware) Enabled() bool {
	return len(m.clients) > 0
}

// Authenticate verifies API key from Authorization header
// Supports formats: "Bearer sk_xxx" or "sk_xxx" in Authorization header
// Also supports X-API-Key header
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing api key", "provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		client := m.lookup(apiKey)
		if client == nil {
			slog.Warn("invalid api key attempt", "key_prefix", maskKey(apiKey), "remote_addr", r.RemoteAddr)
			writeAuthError(w, http.StatusUnauthorized, "invalid api key", "the provided api key is not valid")
			return
		}

		slog.Debug("authenticated request", "client", client.Name, "key_prefix", client.MaskedApiKey())

		ctx := ContextWithClient(r.Context(), client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission returns middleware that checks for specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated", "authentication required")
				return
			}

			if !client.HasPermission(permission) {
				slog.Warn("permission denied",
					"client", client.Name,
					"required", permission,
					"has", client.Permissions,
				)
				writeAuthError(w, http.StatusForbidden, "permission denied",
					"client does not have required permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// lookup compares against every key in constant time
func (m *AuthMiddleware) lookup(apiKey string) *models.ApiClient {
	var found *models.ApiClient
	for _, c := range m.clients {
		if subtle.ConstantTimeCompare([]byte(c.ApiKey), []byte(apiKey)) == 1 {
			found = c
		}
	}
	return found
}

// extractAPIKey extracts API key from request headers
func extractAPIKey(r *http.Request) string {
	// Try Authorization header first
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Handle "Bearer sk_xxx" format
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		// Handle raw key in Authorization header
		return authHeader
	}

	// Fallback to X-API-Key header
	return r.Header.Get("X-API-Key")
}

// maskKey returns first 8 chars of key for safe logging
func maskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}

// writeAuthError writes an auth failure in the common response envelope
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}
