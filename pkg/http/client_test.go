package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "sscrt", r.URL.Query().Get("asset"))
		_, _ = w.Write([]byte(`{"amount":"42"}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetries(2, time.Millisecond))
	var out struct {
		Amount string `json:"amount"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"asset": {"sscrt"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Amount)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSendAndParseDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such contract", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(WithRetries(3, time.Millisecond)).SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "no such contract", se.Body)
	assert.False(t, se.Temporary())
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendAndParseDoesNotRetryPost(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(WithRetries(3, time.Millisecond)).SendAndParse(context.Background(),
		&RequestOptions{Method: MethodPost, URL: srv.URL, Body: map[string]string{"a": "b"}}, nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSendAndParseBadJSONIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"amount":`))
	}))
	defer srv.Close()

	var out map[string]string
	err := NewClient(WithRetries(3, time.Millisecond)).SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &out)
	assert.ErrorContains(t, err, "decode json")
	assert.EqualValues(t, 1, calls.Load())
}
