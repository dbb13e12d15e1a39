// Package api serves the calculated tax report over HTTP.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured. The run
// endpoint requires adminAPIKey as bearer token when it is set.
func NewServer(port string, calc Calculator, orders OrderLookup, adminAPIKey string) *http.Server {
	handler := NewHandler(calc, orders)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("GET /api/v1/report", handler.GetReport)
	mux.HandleFunc("GET /api/v1/summary", handler.GetSummary)
	mux.HandleFunc("GET /api/v1/balances", handler.GetBalances)
	mux.HandleFunc("GET /api/v1/orders/{exchange}/{id}", handler.GetOrder)

	runHandler := http.HandlerFunc(handler.Run)
	if adminAPIKey != "" {
		mux.Handle("POST /api/v1/run", requireAuth(adminAPIKey, runHandler))
	} else {
		mux.Handle("POST /api/v1/run", runHandler)
	}

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
