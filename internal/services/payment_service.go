package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/josva12/Mpesa-PaySTK/internal/api/validate"
	"github.com/josva12/Mpesa-PaySTK/internal/metrics"
	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/josva12/Mpesa-PaySTK/internal/mpesa"
	repo "github.com/josva12/Mpesa-PaySTK/internal/repository"
	"github.com/josva12/Mpesa-PaySTK/internal/worker"
)

const (
	defaultAccountReference = "Payment"
	defaultTransactionDesc  = "Payment for goods/services"

	defaultListLimit = 50
	maxListLimit     = 100
)

// Gateway is the outbound side of the push-payment flow. mpesa.Client
// implements it; tests substitute fakes.
type Gateway interface {
	STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
}

// PaymentService owns the payment lifecycle: it initiates pushes,
// reconciles callbacks against outstanding transactions and serves
// read queries. All duplicate/race handling is delegated to the
// store's uniqueness and guarded-update primitives.
type PaymentService struct {
	trx    repo.Transactions
	events repo.PaymentEvents
	gw     Gateway
	wp     *worker.Pool
	log    *slog.Logger

	minAmount float64
	maxAmount float64
}

func NewPaymentService(t repo.Transactions, e repo.PaymentEvents, gw Gateway, wp *worker.Pool, log *slog.Logger, minAmount, maxAmount float64) *PaymentService {
	return &PaymentService{
		trx:       t,
		events:    e,
		gw:        gw,
		wp:        wp,
		log:       log,
		minAmount: minAmount,
		maxAmount: maxAmount,
	}
}

type InitiateRequest struct {
	Phone            string `json:"phone"`
	Amount           any    `json:"amount"`
	AccountReference string `json:"account_reference"`
	TransactionDesc  string `json:"transaction_desc"`
}

// Initiate validates the request, submits the STK push and records the
// PENDING transaction. A durable record exists if and only if the
// gateway acknowledged the push.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (models.Transaction, error) {
	phone, err := validate.Phone(req.Phone)
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues("validation_error").Inc()
		return models.Transaction{}, err
	}
	amount, err := validate.Amount(req.Amount, s.minAmount, s.maxAmount)
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues("validation_error").Inc()
		return models.Transaction{}, err
	}

	reference := req.AccountReference
	if reference == "" {
		reference = defaultAccountReference
	}
	desc := req.TransactionDesc
	if desc == "" {
		desc = defaultTransactionDesc
	}

	resp, err := s.gw.STKPush(ctx, mpesa.STKPushRequest{
		Phone:            phone,
		Amount:           amount,
		AccountReference: reference,
		TransactionDesc:  desc,
	})
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues(gatewayResult(err)).Inc()
		return models.Transaction{}, err
	}
	if resp.CheckoutRequestID == "" {
		metrics.PaymentsInitiated.WithLabelValues("gateway_rejected").Inc()
		return models.Transaction{}, &mpesa.RejectionError{Code: "missing_id", Message: "gateway acknowledgment carried no CheckoutRequestID"}
	}

	tx, err := s.trx.Insert(ctx, models.Transaction{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Phone:             phone,
		Amount:            amount,
		AccountReference:  reference,
		TransactionDesc:   desc,
		CustomerMessage:   resp.CustomerMessage,
		Status:            models.StatusPending,
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) {
			// The gateway replayed a correlation id it already issued.
			// The caller holds a successful acknowledgment, so this is
			// a genuine anomaly, not an ordinary failure.
			s.log.Warn("duplicate initiation", "checkout_request_id", resp.CheckoutRequestID)
			metrics.PaymentsInitiated.WithLabelValues("duplicate").Inc()
		}
		return models.Transaction{}, err
	}

	s.log.Info("payment initiated",
		"checkout_request_id", tx.CheckoutRequestID, "phone", tx.Phone, "amount", tx.Amount)
	metrics.PaymentsInitiated.WithLabelValues("accepted").Inc()
	s.recordEvent(tx.CheckoutRequestID, models.EventInitiated, map[string]any{
		"phone": tx.Phone, "amount": tx.Amount,
	})
	return tx, nil
}

func gatewayResult(err error) string {
	var authErr *mpesa.AuthError
	if errors.As(err, &authErr) {
		return "gateway_auth_error"
	}
	var rej *mpesa.RejectionError
	if errors.As(err, &rej) {
		return "gateway_rejected"
	}
	return "error"
}

// ReconcileResult reports the terminal status the transaction holds
// after processing a callback. Replayed marks a redelivered
// notification that changed nothing.
type ReconcileResult struct {
	Status   models.TransactionStatus
	Replayed bool
}

// Reconcile matches a gateway notification to its pending transaction
// and applies the idempotent terminal transition. Unmatched
// correlation ids are rejected, never materialized into new records.
func (s *PaymentService) Reconcile(ctx context.Context, cb *mpesa.STKCallback) (ReconcileResult, error) {
	if cb == nil || cb.CheckoutRequestID == "" {
		metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
		return ReconcileResult{}, fmt.Errorf("%w: CheckoutRequestID is required", models.ErrMalformedCallback)
	}

	upd := models.TransactionUpdate{
		ResultCode: cb.ResultCode,
		ResultDesc: cb.ResultDesc,
	}
	if cb.ResultCode == mpesa.ResultCodeSuccess {
		det, err := cb.ReceiptDetails()
		if err != nil {
			metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
			return ReconcileResult{}, fmt.Errorf("%w: %v", models.ErrMalformedCallback, err)
		}
		upd.Status = models.StatusSuccess
		upd.Amount = &det.Amount
		upd.Phone = &det.Phone
		upd.TransactionID = &det.ReceiptNumber
		upd.TransactionDate = &det.TransactionDate
		upd.Balance = det.Balance
	} else {
		upd.Status = models.StatusFailed
	}

	tx, err := s.trx.Finalize(ctx, cb.CheckoutRequestID, upd)
	switch {
	case err == nil:
		s.log.Info("callback processed",
			"checkout_request_id", cb.CheckoutRequestID, "status", tx.Status, "result_code", cb.ResultCode)
		metrics.CallbacksTotal.WithLabelValues(string(tx.Status)).Inc()
		action := models.EventFailed
		if tx.Status == models.StatusSuccess {
			action = models.EventSuccess
		}
		s.recordEvent(tx.CheckoutRequestID, action, map[string]any{
			"result_code": cb.ResultCode, "result_desc": cb.ResultDesc,
		})
		return ReconcileResult{Status: tx.Status}, nil

	case errors.Is(err, models.ErrAlreadyFinalized):
		// Redelivered notification; the row already holds its terminal
		// state and must not be mutated again.
		s.log.Info("callback replayed",
			"checkout_request_id", cb.CheckoutRequestID, "status", tx.Status)
		metrics.CallbacksTotal.WithLabelValues("replayed").Inc()
		return ReconcileResult{Status: tx.Status, Replayed: true}, nil

	case errors.Is(err, models.ErrNotFound):
		s.log.Warn("callback for unknown transaction", "checkout_request_id", cb.CheckoutRequestID)
		metrics.CallbacksTotal.WithLabelValues("unmatched").Inc()
		return ReconcileResult{}, err

	default:
		return ReconcileResult{}, err
	}
}

// List serves filtered, paginated reads, newest first. The limit is
// silently clamped to [1, 100] and skip floored at 0.
func (s *PaymentService) List(ctx context.Context, f models.TransactionFilter, limit, skip int) ([]models.Transaction, int64, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if skip < 0 {
		skip = 0
	}
	f.Status = models.TransactionStatus(strings.ToUpper(string(f.Status)))
	return s.trx.List(ctx, f, limit, skip)
}

func (s *PaymentService) GetByCheckoutID(ctx context.Context, id string) (models.Transaction, error) {
	return s.trx.GetByCheckoutID(ctx, id)
}

// Ping reports store connectivity for the health probe.
func (s *PaymentService) Ping(ctx context.Context) error {
	return s.trx.Ping(ctx)
}

// recordEvent appends an audit row off the request path. Failures are
// logged and swallowed; the event log never affects request outcomes.
func (s *PaymentService) recordEvent(checkoutRequestID, action string, details map[string]any) {
	if s.events == nil || s.wp == nil {
		return
	}
	s.wp.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.events.Create(ctx, models.PaymentEvent{
			CheckoutRequestID: checkoutRequestID,
			Action:            action,
			Details:           details,
		})
		if err != nil {
			s.log.Warn("payment event write failed", "action", action, "err", err)
		}
	})
}
