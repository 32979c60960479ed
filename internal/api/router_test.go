package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/josva12/Mpesa-PaySTK/internal/config"
	"github.com/josva12/Mpesa-PaySTK/internal/models"
	"github.com/josva12/Mpesa-PaySTK/internal/mpesa"
	"github.com/josva12/Mpesa-PaySTK/internal/services"
)

const apiToken = "test-api-token"

type memRepo struct {
	mu      sync.Mutex
	byID    map[string]models.Transaction
	pingErr error
}

func newMemRepo() *memRepo { return &memRepo{byID: map[string]models.Transaction{}} }

func (r *memRepo) Insert(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[tx.CheckoutRequestID]; ok {
		return models.Transaction{}, models.ErrDuplicateTransaction
	}
	tx.CreatedAt = time.Now()
	r.byID[tx.CheckoutRequestID] = tx
	return tx, nil
}

func (r *memRepo) GetByCheckoutID(_ context.Context, id string) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, nil
}

func (r *memRepo) Finalize(_ context.Context, id string, upd models.TransactionUpdate) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok {
		return models.Transaction{}, models.ErrNotFound
	}
	if tx.Status != models.StatusPending {
		return tx, models.ErrAlreadyFinalized
	}
	tx.Status = upd.Status
	code := upd.ResultCode
	tx.ResultCode = &code
	tx.ResultDesc = upd.ResultDesc
	if upd.Amount != nil {
		tx.Amount = *upd.Amount
	}
	if upd.Phone != nil {
		tx.Phone = *upd.Phone
	}
	if upd.TransactionID != nil {
		tx.TransactionID = upd.TransactionID
	}
	if upd.TransactionDate != nil {
		tx.TransactionDate = *upd.TransactionDate
	}
	tx.Balance = upd.Balance
	now := time.Now()
	tx.UpdatedAt = &now
	r.byID[id] = tx
	return tx, nil
}

func (r *memRepo) List(_ context.Context, f models.TransactionFilter, limit, offset int) ([]models.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []models.Transaction
	for _, tx := range r.byID {
		if f.Phone != "" && tx.Phone != f.Phone {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		all = append(all, tx)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memRepo) Ping(context.Context) error { return r.pingErr }

type scriptedGateway struct {
	mu    sync.Mutex
	queue []*mpesa.STKPushResponse
	err   error
}

func (g *scriptedGateway) STKPush(context.Context, mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	resp := g.queue[0]
	if len(g.queue) > 1 {
		g.queue = g.queue[1:]
	}
	return resp, nil
}

func ack(id string) *mpesa.STKPushResponse {
	return &mpesa.STKPushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: id,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}
}

func newTestServer(t *testing.T, repo *memRepo, gw services.Gateway) *httptest.Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(apiToken), bcrypt.MinCost)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := services.NewPaymentService(repo, nil, gw, nil, log, 1, 70000)
	cfg := config.Config{APIToken: string(hash)}

	srv := httptest.NewServer(NewRouter(cfg, svc))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, authed bool) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func initiateBody() map[string]any {
	return map[string]any{"phone": "254708374149", "amount": 100}
}

func callbackBody(id string, resultCode int, resultDesc string, items []map[string]any) map[string]any {
	cb := map[string]any{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": id,
		"ResultCode":        resultCode,
		"ResultDesc":        resultDesc,
	}
	if items != nil {
		cb["CallbackMetadata"] = map[string]any{"Item": items}
	}
	return map[string]any{"Body": map[string]any{"stkCallback": cb}}
}

func successItems(amount float64) []map[string]any {
	return []map[string]any{
		{"Name": "Amount", "Value": amount},
		{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
		{"Name": "TransactionDate", "Value": 20231201120000},
		{"Name": "PhoneNumber", "Value": 254708374149},
	}
}

func TestInitiatePaymentEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1")}})

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Payment initiated successfully", body["message"])

		data := body["data"].(map[string]any)
		assert.Equal(t, "ws_CO_1", data["checkout_request_id"])
		assert.Equal(t, "PENDING", data["status"])

		// The record is immediately readable through the query surface.
		resp, got := doJSON(t, http.MethodGet, srv.URL+"/transactions/ws_CO_1", nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "PENDING", got["status"])
		assert.Equal(t, "254708374149", got["phone"])
	})

	t.Run("requires auth", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1")}})

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, repo.byID)
	})

	t.Run("validation failure is a 400 with the rule message", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1")}})

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment",
			map[string]any{"phone": "25470837414", "amount": 100}, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "12 digits")
	})

	t.Run("gateway rejection is a 400 and writes nothing", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{err: &mpesa.RejectionError{Code: "1", Message: "Invalid Amount"}})

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, repo.byID)
	})

	t.Run("gateway auth failure is a 502", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{err: &mpesa.AuthError{Err: io.ErrUnexpectedEOF}})

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("replayed correlation id is a 409", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1")}})

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Len(t, repo.byID, 1)
	})
}

func TestCallbackEndpoint(t *testing.T) {
	initiated := func(t *testing.T) (*memRepo, *httptest.Server) {
		t.Helper()
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1")}})
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return repo, srv
	}

	t.Run("success callback flips the row to SUCCESS", func(t *testing.T) {
		repo, srv := initiated(t)

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/callback",
			callbackBody("ws_CO_1", 0, "The service request is processed successfully.", successItems(100)), false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "SUCCESS", body["status"])

		tx := repo.byID["ws_CO_1"]
		assert.Equal(t, models.StatusSuccess, tx.Status)
		assert.Equal(t, float64(100), tx.Amount)
	})

	t.Run("failure callback records the description", func(t *testing.T) {
		repo, srv := initiated(t)

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/callback",
			callbackBody("ws_CO_1", 1, "Insufficient balance", nil), false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "FAILED", body["status"])
		assert.Equal(t, "Insufficient balance", repo.byID["ws_CO_1"].ResultDesc)
	})

	t.Run("identical callback twice succeeds twice, mutates once", func(t *testing.T) {
		repo, srv := initiated(t)
		payload := callbackBody("ws_CO_1", 0, "ok", successItems(100))

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/callback", payload, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		firstUpdated := *repo.byID["ws_CO_1"].UpdatedAt

		resp, body := doJSON(t, http.MethodPost, srv.URL+"/callback", payload, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "SUCCESS", body["status"])
		assert.Equal(t, firstUpdated, *repo.byID["ws_CO_1"].UpdatedAt)
	})

	t.Run("unmatched correlation id is a 404 and creates nothing", func(t *testing.T) {
		repo, srv := initiated(t)

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/callback",
			callbackBody("ws_CO_unknown", 0, "ok", successItems(100)), false)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Len(t, repo.byID, 1)
	})

	t.Run("malformed envelope is a 400", func(t *testing.T) {
		_, srv := initiated(t)

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/callback", map[string]any{"invalid": "format"}, false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing correlation id is a 400", func(t *testing.T) {
		_, srv := initiated(t)

		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/callback",
			callbackBody("", 0, "ok", successItems(100)), false)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTransactionsEndpoint(t *testing.T) {
	seed := func(t *testing.T) *httptest.Server {
		t.Helper()
		repo := newMemRepo()
		gw := &scriptedGateway{queue: []*mpesa.STKPushResponse{ack("ws_CO_1"), ack("ws_CO_2"), ack("ws_CO_3")}}
		srv := newTestServer(t, repo, gw)
		for i := 0; i < 3; i++ {
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/initiate_payment", initiateBody(), true)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/callback",
			callbackBody("ws_CO_2", 0, "ok", successItems(100)), false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return srv
	}

	t.Run("requires auth", func(t *testing.T) {
		srv := seed(t)
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/transactions", nil, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("status filter with limit", func(t *testing.T) {
		srv := seed(t)

		resp, body := doJSON(t, http.MethodGet, srv.URL+"/transactions?status=SUCCESS&limit=10", nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 1, body["count"])
		assert.EqualValues(t, 1, body["total"])

		txs := body["transactions"].([]any)
		require.Len(t, txs, 1)
		assert.Equal(t, "ws_CO_2", txs[0].(map[string]any)["checkout_request_id"])
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		srv := seed(t)

		resp, body := doJSON(t, http.MethodGet, srv.URL+"/transactions?phone=254700000000", nil, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 0, body["count"])
		assert.NotNil(t, body["transactions"])
	})

	t.Run("unknown checkout id is a 404", func(t *testing.T) {
		srv := seed(t)

		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/transactions/ws_CO_missing", nil, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		repo := newMemRepo()
		srv := newTestServer(t, repo, &scriptedGateway{})

		resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "connected", body["database"])
	})

	t.Run("store outage", func(t *testing.T) {
		repo := newMemRepo()
		repo.pingErr = io.ErrClosedPipe
		srv := newTestServer(t, repo, &scriptedGateway{})

		resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil, false)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "unhealthy", body["status"])
	})
}
