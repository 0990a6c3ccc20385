/**
 * @description
 * This file sets up the HTTP router for the wallet service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies the standard middleware stack.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/finx/finx-backend/pkg/middleware"
)

// WalletRoutes creates and returns a new router for the wallet service.
func WalletRoutes(h *WalletHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerOwner)

		r.Post("/", h.GetOrCreateWalletHandler)
		r.Get("/me", h.GetWalletHandler)
		r.Post("/credit", h.CreditHandler)
		r.Post("/debit", h.DebitHandler)
		r.Post("/transfer", h.TransferHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
	})

	return r
}
