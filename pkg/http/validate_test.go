package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unbondRequest struct {
	Asset  string `param:"asset" validate:"required"`
	Amount string `json:"amount" validate:"required,amount"`
	Limit  int    `query:"limit" default:"10" validate:"gte=1,lte=100"`
}

// bindContext uses GET because echo binds query parameters only for GET, DELETE and HEAD.
func bindContext(body, query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/assets/sscrt/unbond"+query, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("asset")
	c.SetParamValues("sscrt")
	return c
}

func TestReadAndValidateRequest(t *testing.T) {
	req := &unbondRequest{}
	require.Nil(t, ReadAndValidateRequest(bindContext(`{"amount":"340282366920938463463374607431768211455"}`, ""), req))
	assert.Equal(t, "sscrt", req.Asset)
	assert.Equal(t, 10, req.Limit)
}

func TestReadAndValidateRequestRejects(t *testing.T) {
	cases := map[string]struct {
		body, query, field, code string
	}{
		"fraction": {`{"amount":"1.5"}`, "", "amount", "ERR_AMOUNT"},
		"negative": {`{"amount":"-1"}`, "", "amount", "ERR_AMOUNT"},
		"missing":  {`{}`, "", "amount", "ERR_REQUIRED"},
		"limit":    {`{"amount":"1"}`, "?limit=500", "limit", "ERR_LTE"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			verr := ReadAndValidateRequest(bindContext(tc.body, tc.query), &unbondRequest{})
			errs, ok := verr.([]ValidationError)
			require.True(t, ok)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.field, errs[0].Field)
			assert.Equal(t, tc.code, errs[0].Code)
		})
	}

	verr := ReadAndValidateRequest(bindContext(`{"amount":`, ""), &unbondRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	assert.Equal(t, "ERR_MALFORMED", errs[0].Code)
}

func TestErrorMapper(t *testing.T) {
	errBusy := errors.New("asset busy")
	m := ErrorMapper{{Err: errBusy, Code: "ERR_BUSY", Status: http.StatusConflict}}

	mapped := m.Map(fmt.Errorf("rebalance sscrt: %w", errBusy))
	assert.Equal(t, http.StatusConflict, StatusOf(mapped))
	assert.ErrorIs(t, mapped, errBusy)
	assert.Equal(t, "rebalance sscrt: asset busy", mapped.Error())

	plain := errors.New("boom")
	assert.Same(t, plain, m.Map(plain))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(plain))
	assert.NoError(t, m.Map(nil))
}
