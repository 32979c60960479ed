package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/josva12/Mpesa-PaySTK/internal/api/httpx"
	"github.com/josva12/Mpesa-PaySTK/internal/api/validate"
	"github.com/josva12/Mpesa-PaySTK/internal/config"
	"github.com/josva12/Mpesa-PaySTK/internal/metrics"
	"github.com/josva12/Mpesa-PaySTK/internal/middleware"
	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/josva12/Mpesa-PaySTK/internal/mpesa"
	"github.com/josva12/Mpesa-PaySTK/internal/services"
)

func NewRouter(cfg config.Config, svc *services.PaymentService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RateLimit(cfg.RateRPS), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now().UTC().Format(time.RFC3339)
		if err := svc.Ping(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "unhealthy", "timestamp": ts, "error": err.Error(),
			})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy", "timestamp": ts, "database": "connected",
		})
	})
	r.Handle("/metrics", metrics.Handler())

	// The callback endpoint is deliberately ungated: the gateway, not
	// an authenticated client, calls it. Correlation-id matching in the
	// reconciler is its only trust boundary.
	r.Post("/callback", func(w http.ResponseWriter, r *http.Request) {
		var env mpesa.CallbackEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "malformed_callback", "callback data is required", nil)
			return
		}
		if env.Body.STKCallback == nil {
			httpx.WriteError(w, http.StatusBadRequest, "malformed_callback", "invalid callback format", nil)
			return
		}
		res, err := svc.Reconcile(r.Context(), env.Body.STKCallback)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"message": "Callback processed successfully",
			"status":  res.Status,
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(cfg.APIToken))

		r.Post("/initiate_payment", func(w http.ResponseWriter, r *http.Request) {
			var req services.InitiateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "request body is required", nil)
				return
			}
			tx, err := svc.Initiate(r.Context(), req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{
				Message: "Payment initiated successfully",
				Data: map[string]any{
					"checkout_request_id": tx.CheckoutRequestID,
					"merchant_request_id": tx.MerchantRequestID,
					"customer_message":    tx.CustomerMessage,
					"status":              tx.Status,
				},
			})
		})

		r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			limit, _ := strconv.Atoi(q.Get("limit"))
			skip, _ := strconv.Atoi(q.Get("skip"))
			filter := models.TransactionFilter{
				Phone:  q.Get("phone"),
				Status: models.TransactionStatus(q.Get("status")),
			}
			txs, total, err := svc.List(r.Context(), filter, limit, skip)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if txs == nil {
				txs = []models.Transaction{}
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"transactions": txs,
				"count":        len(txs),
				"total":        total,
			})
		})

		r.Get("/transactions/{checkout_request_id}", func(w http.ResponseWriter, r *http.Request) {
			tx, err := svc.GetByCheckoutID(r.Context(), chi.URLParam(r, "checkout_request_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, tx)
		})
	})

	return r
}

// writeDomainError maps the error taxonomy onto the HTTP surface.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", ve.Msg, nil)
		return
	}
	var rej *mpesa.RejectionError
	if errors.As(err, &rej) {
		httpx.WriteError(w, http.StatusBadRequest, "gateway_rejected", "payment initiation failed", rej.Message)
		return
	}
	var authErr *mpesa.AuthError
	if errors.As(err, &authErr) {
		httpx.WriteError(w, http.StatusBadGateway, "gateway_auth_error", "failed to authenticate with payment gateway", nil)
		return
	}
	switch {
	case errors.Is(err, models.ErrDuplicateTransaction):
		httpx.WriteError(w, http.StatusConflict, "duplicate_transaction", "duplicate transaction", nil)
	case errors.Is(err, models.ErrMalformedCallback):
		httpx.WriteError(w, http.StatusBadRequest, "malformed_callback", err.Error(), nil)
	case errors.Is(err, models.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "transaction not found", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
