package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	"FinTreasury/internal/domain/service"
)

// stubTreasury overrides the calls a test needs; anything else panics.
type stubTreasury struct {
	service.Treasury
	unbond    func(caller, asset string, amount decimal.Decimal) (models.UnbondResult, error)
	rebalance func(caller, asset string) (models.RebalanceResult, error)
	receive   func(n models.TransferNotification) (models.DepositResult, error)
	holders   []string
}

func (s *stubTreasury) ReceiveDeposit(_ context.Context, n models.TransferNotification) (models.DepositResult, error) {
	return s.receive(n)
}

func (s *stubTreasury) Unbond(_ context.Context, caller, asset string, amount decimal.Decimal) (models.UnbondResult, error) {
	return s.unbond(caller, asset, amount)
}

func (s *stubTreasury) Rebalance(_ context.Context, caller, asset string) (models.RebalanceResult, error) {
	return s.rebalance(caller, asset)
}

func (s *stubTreasury) Holders(context.Context) ([]string, error) { return s.holders, nil }

type stubScheduler struct{ assets []string }

func (s *stubScheduler) Schedule(_ context.Context, _ string, asset string) error {
	s.assets = append(s.assets, asset)
	return nil
}

type stubAudit struct {
	limit int
	asset string
}

func (s *stubAudit) Entries(_ context.Context, asset string, _, _ time.Time, limit int) ([]models.JournalEntry, error) {
	s.asset, s.limit = asset, limit
	return []models.JournalEntry{{BatchID: "b1", Asset: asset}}, nil
}

type apiResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func serve(t *testing.T, h *TreasuryEchoHandler, method, target, who, body string) apiResponse {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if who != "" {
		req.Header.Set(HeaderCaller, who)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUnbondRequiresCaller(t *testing.T) {
	h := NewTreasuryEchoHandler(nil, &stubTreasury{})
	res := serve(t, h, http.MethodPost, "/api/v1/assets/sscrt/unbond", "", `{"amount":"10"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestUnbondPassesCallerAndAmount(t *testing.T) {
	var got struct {
		caller, asset string
		amount        decimal.Decimal
	}
	stub := &stubTreasury{unbond: func(caller, asset string, amount decimal.Decimal) (models.UnbondResult, error) {
		got.caller, got.asset, got.amount = caller, asset, amount
		return models.UnbondResult{Holder: caller, Asset: asset, Amount: amount, Settled: amount}, nil
	}}
	h := NewTreasuryEchoHandler(nil, stub)

	res := serve(t, h, http.MethodPost, "/api/v1/assets/sscrt/unbond", "alice", `{"amount":"10"}`)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "alice", got.caller)
	assert.Equal(t, "sscrt", got.asset)
	assert.True(t, got.amount.Equal(decimal.NewFromInt(10)))

	var body models.UnbondResult
	require.NoError(t, json.Unmarshal(res.Data, &body))
	assert.True(t, body.Settled.Equal(decimal.NewFromInt(10)))
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: alice", models.ErrInsufficientBalance), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bob", models.ErrUnknownHolder), http.StatusNotFound},
		{models.ErrUnauthorized, http.StatusForbidden},
		{models.ErrAssetBusy, http.StatusConflict},
		{fmt.Errorf("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		stub := &stubTreasury{unbond: func(string, string, decimal.Decimal) (models.UnbondResult, error) {
			return models.UnbondResult{}, tc.err
		}}
		res := serve(t, NewTreasuryEchoHandler(nil, stub), http.MethodPost, "/api/v1/assets/sscrt/unbond", "alice", `{"amount":"1"}`)
		assert.Equal(t, tc.status, res.Status, tc.err.Error())
	}
}

func TestUnbondRejectsFractionalAmount(t *testing.T) {
	stub := &stubTreasury{unbond: func(string, string, decimal.Decimal) (models.UnbondResult, error) {
		t.Fatal("manager must not be called")
		return models.UnbondResult{}, nil
	}}
	res := serve(t, NewTreasuryEchoHandler(nil, stub), http.MethodPost, "/api/v1/assets/sscrt/unbond", "alice", `{"amount":"1.5"}`)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestRebalanceAsyncQueues(t *testing.T) {
	stub := &stubTreasury{rebalance: func(string, string) (models.RebalanceResult, error) {
		t.Fatal("rebalance must be deferred")
		return models.RebalanceResult{}, nil
	}}
	sched := &stubScheduler{}
	h := NewTreasuryEchoHandler(nil, stub, WithScheduler(sched))

	res := serve(t, h, http.MethodPost, "/api/v1/assets/sscrt/rebalance?async=true", "", "")
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, []string{"sscrt"}, sched.assets)

	res = serve(t, h, http.MethodPost, "/api/v1/rebalance?async=1", "", "")
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, []string{"sscrt", ""}, sched.assets)
}

func TestRebalanceAsyncWithoutQueue(t *testing.T) {
	res := serve(t, NewTreasuryEchoHandler(nil, &stubTreasury{}), http.MethodPost, "/api/v1/rebalance?async=true", "", "")
	assert.Equal(t, http.StatusNotImplemented, res.Status)
}

func TestJournalQuery(t *testing.T) {
	audit := &stubAudit{}
	h := NewTreasuryEchoHandler(nil, &stubTreasury{}, WithAuditLog(audit))

	res := serve(t, h, http.MethodGet, "/api/v1/journal?asset=sscrt&limit=5", "", "")
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 5, audit.limit)
	assert.Equal(t, "sscrt", audit.asset)

	res = serve(t, h, http.MethodGet, "/api/v1/journal?limit=5000", "", "")
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestHoldersList(t *testing.T) {
	h := NewTreasuryEchoHandler(nil, &stubTreasury{holders: []string{"treasury", "alice"}})
	res := serve(t, h, http.MethodGet, "/api/v1/holders", "", "")
	require.Equal(t, http.StatusOK, res.Status)
	var list struct {
		Rows  []string `json:"rows"`
		Total int64    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &list))
	assert.Equal(t, []string{"treasury", "alice"}, list.Rows)
	assert.EqualValues(t, 2, list.Total)
}

func TestDepositReportsCallerAsNotifier(t *testing.T) {
	var got models.TransferNotification
	stub := &stubTreasury{receive: func(n models.TransferNotification) (models.DepositResult, error) {
		got = n
		return models.DepositResult{Credited: n.From, Amount: n.Amount}, nil
	}}
	h := NewTreasuryEchoHandler(nil, stub)

	res := serve(t, h, http.MethodPost, "/api/v1/assets/sscrt/deposits", "", `{"from":"alice","amount":"10"}`)
	assert.Equal(t, http.StatusUnauthorized, res.Status)

	res = serve(t, h, http.MethodPost, "/api/v1/assets/sscrt/deposits", "sscrt", `{"tx_hash":"0x1","from":"alice","amount":"10"}`)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "sscrt", got.Notifier)
	assert.Equal(t, "sscrt", got.Token)
	assert.Equal(t, "alice", got.Sender)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)))
}
