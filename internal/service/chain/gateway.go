// Package chain talks to the chain gateway: contract queries over HTTP and
// inbound transfer notifications over a websocket.
package chain

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	pkgcache "FinTreasury/pkg/cache"
	pkghttp "FinTreasury/pkg/http"
)

// Gateway answers token, adapter and permission queries through the chain
// gateway's REST API. Token balance queries authenticate with the manager's
// viewing key.
type Gateway struct {
	baseURL    string
	viewingKey string
	client     *pkghttp.Client
	infoCache  pkgcache.Service
	infoTTL    time.Duration
}

type GatewayOption func(*Gateway)

// WithInfoCache caches token metadata, which only changes on contract migration.
func WithInfoCache(c pkgcache.Service, ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.infoCache = c
		g.infoTTL = ttl
	}
}

var (
	_ drepo.TokenProtocol   = (*Gateway)(nil)
	_ drepo.Authorizer      = (*Gateway)(nil)
	_ drepo.AdapterProtocol = adapterGateway{}
)

func NewGateway(baseURL, viewingKey string, client *pkghttp.Client, opts ...GatewayOption) *Gateway {
	if client == nil {
		client = pkghttp.NewClient()
	}
	g := &Gateway{baseURL: strings.TrimRight(baseURL, "/"), viewingKey: viewingKey, client: client, infoTTL: time.Hour}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type amountResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

type permissionResponse struct {
	HasPermission bool `json:"has_permission"`
}

func (g *Gateway) get(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	opts := &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         g.baseURL + path,
		QueryParams: query,
		Headers:     map[string]string{"Accept": "application/json"},
	}
	if g.viewingKey != "" {
		opts.Headers["X-Viewing-Key"] = g.viewingKey
	}
	if err := g.client.SendAndParse(ctx, opts, dest); err != nil {
		return fmt.Errorf("chain gateway %s: %w", path, err)
	}
	return nil
}

func contractPath(kind string, c models.Contract, query string) string {
	return fmt.Sprintf("/%s/%s/%s", kind, url.PathEscape(c.Address), query)
}

func (g *Gateway) amount(ctx context.Context, path string, query map[string][]string) (decimal.Decimal, error) {
	var resp amountResponse
	if err := g.get(ctx, path, query, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("chain gateway %s: negative amount %s", path, resp.Amount)
	}
	return resp.Amount, nil
}

func (g *Gateway) Balance(ctx context.Context, token models.Contract, owner string) (decimal.Decimal, error) {
	return g.amount(ctx, contractPath("tokens", token, "balance"), map[string][]string{
		"code_hash": {token.CodeHash},
		"owner":     {owner},
	})
}

func (g *Gateway) Allowance(ctx context.Context, token models.Contract, owner, spender string) (decimal.Decimal, error) {
	return g.amount(ctx, contractPath("tokens", token, "allowance"), map[string][]string{
		"code_hash": {token.CodeHash},
		"owner":     {owner},
		"spender":   {spender},
	})
}

func (g *Gateway) TokenInfo(ctx context.Context, token models.Contract) (models.TokenInfo, error) {
	return pkgcache.Fetch(ctx, g.infoCache, pkgcache.Key("token_info", token.Address), g.infoTTL,
		func(ctx context.Context) (models.TokenInfo, error) {
			var info models.TokenInfo
			err := g.get(ctx, contractPath("tokens", token, "info"), map[string][]string{"code_hash": {token.CodeHash}}, &info)
			return info, err
		})
}

// Adapters returns the adapter protocol view of the gateway. Its Balance
// clashes with the token Balance, hence the separate type.
func (g *Gateway) Adapters() drepo.AdapterProtocol { return adapterGateway{g} }

type adapterGateway struct{ g *Gateway }

func (a adapterGateway) Balance(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error) {
	return a.g.adapterQuery(ctx, adapter, asset, "balance")
}

func (a adapterGateway) Claimable(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error) {
	return a.g.adapterQuery(ctx, adapter, asset, "claimable")
}

func (a adapterGateway) Unbondable(ctx context.Context, adapter models.Contract, asset string) (decimal.Decimal, error) {
	return a.g.adapterQuery(ctx, adapter, asset, "unbondable")
}

func (g *Gateway) adapterQuery(ctx context.Context, adapter models.Contract, asset, query string) (decimal.Decimal, error) {
	return g.amount(ctx, contractPath("adapters", adapter, query), map[string][]string{
		"code_hash": {adapter.CodeHash},
		"asset":     {asset},
	})
}

func (g *Gateway) HasPermission(ctx context.Context, auth models.Contract, user string, perm models.Permission) (bool, error) {
	var resp permissionResponse
	err := g.get(ctx, contractPath("admin", auth, "permission"), map[string][]string{
		"code_hash":  {auth.CodeHash},
		"user":       {user},
		"permission": {string(perm)},
	}, &resp)
	return resp.HasPermission, err
}
