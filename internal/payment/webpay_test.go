package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebpayCreateTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, webpayAPIPrefix, r.URL.Path)
		require.Equal(t, "597055555532", r.Header.Get("Tbk-Api-Key-Id"))
		require.NotEmpty(t, r.Header.Get("Tbk-Api-Key-Secret"))

		var req webpayCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(20000), req.Amount)
		assert.NotEmpty(t, req.BuyOrder)
		assert.NotEmpty(t, req.ReturnURL)

		json.NewEncoder(w).Encode(webpayCreateResponse{
			Token: "01ab",
			URL:   "https://webpay.test/init",
		})
	}))
	defer srv.Close()

	c := NewWebpayClient(srv.URL, "597055555532", "secret", nil, zap.NewNop())
	res, err := c.CreateTransaction(context.Background(), NewBuyOrder(BuyOrderPrefixAppointment), "sess-1", 20000, "https://app.test/return")
	require.NoError(t, err)
	assert.Equal(t, "01ab", res.Token)
	assert.Equal(t, "https://webpay.test/init", res.URL)
}

func TestWebpayCreateRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(webpayCreateResponse{Token: "01ab", URL: "https://webpay.test/init"})
	}))
	defer srv.Close()

	c := NewWebpayClient(srv.URL, "cc", "secret", nil, zap.NewNop())
	res, err := c.CreateTransaction(context.Background(), NewBuyOrder(BuyOrderPrefixAppointment), "sess-1", 20000, "https://app.test/return")
	require.NoError(t, err)
	assert.Equal(t, "01ab", res.Token)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebpayCreateDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewWebpayClient(srv.URL, "cc", "secret", nil, zap.NewNop())
	_, err := c.CreateTransaction(context.Background(), NewBuyOrder(BuyOrderPrefixAppointment), "sess-1", 20000, "https://app.test/return")
	require.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebpayCommitTransaction(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, webpayAPIPrefix+"/tok-1", r.URL.Path)

		json.NewEncoder(w).Encode(webpayCommitResponse{
			BuyOrder:          "APT-00112233445566778899aa",
			Status:            "AUTHORIZED",
			ResponseCode:      0,
			Amount:            20000,
			AuthorizationCode: "1213",
		})
	}))
	defer srv.Close()

	c := NewWebpayClient(srv.URL, "cc", "secret", nil, zap.NewNop())
	res, err := c.CommitTransaction(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, res.Authorized())
	assert.Equal(t, "APT-00112233445566778899aa", res.BuyOrder)
	assert.Equal(t, int64(20000), res.Amount)
	assert.NotEmpty(t, res.Raw)
}

func TestWebpayCommitNeverRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebpayClient(srv.URL, "cc", "secret", nil, zap.NewNop())
	_, err := c.CommitTransaction(context.Background(), "tok-1")
	require.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommitResultAuthorized(t *testing.T) {
	cases := []struct {
		status string
		code   int
		want   bool
	}{
		{"AUTHORIZED", 0, true},
		{"AUTHORIZED", -1, false},
		{"FAILED", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		r := CommitResult{Status: tc.status, ResponseCode: tc.code}
		assert.Equal(t, tc.want, r.Authorized(), "%s/%d", tc.status, tc.code)
	}
}
