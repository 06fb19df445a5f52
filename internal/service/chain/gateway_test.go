package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinTreasury/internal/domain/models"
	pkgcache "FinTreasury/pkg/cache"
	pkghttp "FinTreasury/pkg/http"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGatewayQueries(t *testing.T) {
	var infoCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/tokens/sscrt/balance":
			assert.Equal(t, "vk", r.Header.Get("X-Viewing-Key"))
			assert.Equal(t, "token-hash", q.Get("code_hash"))
			assert.Equal(t, "manager", q.Get("owner"))
			writeJSON(w, map[string]string{"amount": "1500"})
		case "/tokens/sscrt/allowance":
			assert.Equal(t, "treasury", q.Get("owner"))
			assert.Equal(t, "manager", q.Get("spender"))
			writeJSON(w, map[string]string{"amount": "20"})
		case "/tokens/sscrt/info":
			infoCalls.Add(1)
			writeJSON(w, map[string]interface{}{"name": "Secret SCRT", "symbol": "SSCRT", "decimals": 6})
		case "/adapters/scrt_staking/unbondable":
			assert.Equal(t, "sscrt", q.Get("asset"))
			writeJSON(w, map[string]string{"amount": "700"})
		case "/admin/auth/permission":
			writeJSON(w, map[string]bool{"has_permission": q.Get("user") == "admin"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cache := pkgcache.NewMemoryCache()
	defer cache.Close()
	g := NewGateway(srv.URL+"/", "vk", pkghttp.NewClient(), WithInfoCache(cache, 0))
	ctx := context.Background()
	token := models.Contract{Address: "sscrt", CodeHash: "token-hash"}

	bal, err := g.Balance(ctx, token, "manager")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1500)))

	allow, err := g.Allowance(ctx, token, "treasury", "manager")
	require.NoError(t, err)
	assert.True(t, allow.Equal(decimal.NewFromInt(20)))

	for i := 0; i < 2; i++ {
		info, err := g.TokenInfo(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "SSCRT", info.Symbol)
		assert.EqualValues(t, 6, info.Decimals)
	}
	assert.EqualValues(t, 1, infoCalls.Load())

	unbondable, err := g.Adapters().Unbondable(ctx, models.Contract{Address: "scrt_staking"}, "sscrt")
	require.NoError(t, err)
	assert.True(t, unbondable.Equal(decimal.NewFromInt(700)))

	auth := models.Contract{Address: "auth"}
	ok, err := g.HasPermission(ctx, auth, "admin", models.PermissionTreasuryManager)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.HasPermission(ctx, auth, "mallory", models.PermissionTreasuryManager)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = g.Adapters().Balance(ctx, models.Contract{Address: "missing"}, "sscrt")
	assert.Error(t, err)
}

func TestGatewayRejectsNegativeAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"amount": "-1"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "", nil)
	_, err := g.Balance(context.Background(), models.Contract{Address: "sscrt"}, "manager")
	assert.ErrorContains(t, err, "negative amount")
}

func TestDecodeTransfers(t *testing.T) {
	msg := []byte(`{"type":"transfer","data":[
		{"tx_hash":"a1","token":"sscrt","sender":"router","from":"alice","recipient":"manager","amount":"100"},
		{"tx_hash":"a2","token":"sscrt","sender":"bob","recipient":"manager","amount":"5"},
		{"tx_hash":"a3","token":"sscrt","sender":"carol","recipient":"someone-else","amount":"7"},
		{"tx_hash":"a4","token":"sscrt","sender":"dave","recipient":"manager","amount":"abc"}
	]}`)

	got := decodeTransfers(msg, "manager")
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].From)
	assert.Equal(t, "router", got[0].Sender)
	assert.Equal(t, "sscrt", got[0].Notifier)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(100)))
	// from defaults to the sender
	assert.Equal(t, "bob", got[1].From)

	assert.Nil(t, decodeTransfers([]byte(`{"type":"pong"}`), "manager"))
	assert.Nil(t, decodeTransfers([]byte(`not json`), "manager"))
}
