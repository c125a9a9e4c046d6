package http

import (
	"context"
	"net/http"

	"ghostbus/internal/auth"
)

type contextKey string

const boundVehicleKey contextKey = "bound_vehicle_id"

// boundVehicle returns the vehicle id the request's API key is bound to,
// empty for fleet-wide keys.
func boundVehicle(r *http.Request) string {
	id, _ := r.Context().Value(boundVehicleKey).(string)
	return id
}

type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing X-API-Key header"}`))
			return
		}

		vehicleID, ok := m.auth.Resolve(r.Context(), apiKey)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid API key"}`))
			return
		}

		if vehicleID != "" {
			r = r.WithContext(context.WithValue(r.Context(), boundVehicleKey, vehicleID))
		}
		next.ServeHTTP(w, r)
	})
}
