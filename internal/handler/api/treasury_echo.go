package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"FinTreasury/internal/domain/models"
	"FinTreasury/internal/domain/service"
	apimetrics "FinTreasury/internal/service/metrics"
	"FinTreasury/internal/service/ratelimit"
	"FinTreasury/pkg/fixed"
	xhttp "FinTreasury/pkg/http"
	xlogger "FinTreasury/pkg/logger"
	xutil "FinTreasury/pkg/util"
)

// HeaderCaller carries the authenticated caller address set by the gateway in front of the API.
const HeaderCaller = "X-Caller-Address"

// TreasuryEchoHandler serves the manager's commands and queries.
type TreasuryEchoHandler struct {
	logger    *xlogger.Logger
	treasury  service.Treasury
	audit     service.AuditLog
	scheduler service.RebalanceScheduler
	limiter   *ratelimit.Limiter
	rate      RateLimit
}

// RateLimit is a per-caller token bucket. A zero Burst disables limiting.
type RateLimit struct {
	Burst     float64
	PerSecond float64
}

type HandlerOption func(*TreasuryEchoHandler)

func WithAuditLog(a service.AuditLog) HandlerOption {
	return func(h *TreasuryEchoHandler) { h.audit = a }
}

func WithScheduler(s service.RebalanceScheduler) HandlerOption {
	return func(h *TreasuryEchoHandler) { h.scheduler = s }
}

func WithRateLimit(l *ratelimit.Limiter, rate RateLimit) HandlerOption {
	return func(h *TreasuryEchoHandler) {
		h.limiter = l
		h.rate = rate
	}
}

func NewTreasuryEchoHandler(logger *xlogger.Logger, treasury service.Treasury, opts ...HandlerOption) *TreasuryEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &TreasuryEchoHandler{logger: logger, treasury: treasury}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TreasuryEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	if h.limiter != nil && h.rate.Burst > 0 {
		g.Use(h.limiter.Middleware(h.rate.Burst, h.rate.PerSecond, caller))
	}

	g.GET("/config", h.Config)
	g.PUT("/config", h.UpdateConfig)

	g.GET("/assets", h.Assets)
	g.POST("/assets", h.RegisterAsset)
	g.GET("/assets/:asset", h.Asset)
	g.PUT("/assets/:asset/allocations", h.SetAllocation)
	g.GET("/assets/:asset/shares", h.Shares)
	g.POST("/assets/:asset/deposits", h.Deposit)
	g.POST("/assets/:asset/rebalance", h.Rebalance)
	g.POST("/assets/:asset/unbond", h.Unbond)
	g.POST("/assets/:asset/claim", h.Claim)
	g.POST("/rebalance", h.RebalanceAll)

	g.GET("/holders", h.Holders)
	g.POST("/holders", h.AddHolder)
	g.GET("/holders/:holder", h.Holding)
	g.DELETE("/holders/:holder", h.RemoveHolder)
	g.GET("/holders/:holder/assets/:asset", h.Position)

	g.GET("/journal", h.Journal)
}

func caller(c echo.Context) string { return c.Request().Header.Get(HeaderCaller) }

// requireCaller reads the caller header or writes a 401.
func requireCaller(c echo.Context) (string, bool) {
	who := caller(c)
	return who, who != ""
}

// respond maps err and records endpoint metrics.
func (h *TreasuryEchoHandler) respond(c echo.Context, endpoint string, start time.Time, data interface{}, err error) error {
	apimetrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err == nil {
		return xhttp.SuccessResponse(c, data)
	}
	mapped := domainErrors.Map(err)
	status := xhttp.StatusOf(mapped)
	apimetrics.APIErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		h.logger.Error("treasury endpoint failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	} else {
		h.logger.Debug("treasury request rejected", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, mapped)
}

func (h *TreasuryEchoHandler) Config(c echo.Context) error {
	start := time.Now()
	cfg, err := h.treasury.Config(c.Request().Context())
	return h.respond(c, "config", start, cfg, err)
}

func (h *TreasuryEchoHandler) UpdateConfig(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.ConfigRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.treasury.UpdateConfig(c.Request().Context(), who, models.Config{
		AdminAuth: models.Contract{Address: req.AdminAuthAddress, CodeHash: req.AdminAuthCodeHash},
		Treasury:  req.Treasury,
	})
	return h.respond(c, "update_config", start, res, err)
}

func (h *TreasuryEchoHandler) Assets(c echo.Context) error {
	start := time.Now()
	assets, err := h.treasury.Assets(c.Request().Context())
	return h.respond(c, "assets", start, assets, err)
}

func (h *TreasuryEchoHandler) RegisterAsset(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.RegisterAssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.treasury.RegisterAsset(c.Request().Context(), who, models.Contract{Address: req.Address, CodeHash: req.CodeHash})
	return h.respond(c, "register_asset", start, res, err)
}

// Asset reports the allocations with live balances, the pending allowance and reserves.
func (h *TreasuryEchoHandler) Asset(c echo.Context) error {
	start := time.Now()
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.assetReport(c.Request().Context(), req.Asset)
	return h.respond(c, "asset", start, report, err)
}

func (h *TreasuryEchoHandler) assetReport(ctx context.Context, asset string) (*models.AssetReport, error) {
	allocs, err := h.treasury.Allocations(ctx, asset)
	if err != nil {
		return nil, err
	}
	allowance, err := h.treasury.PendingAllowance(ctx, asset)
	if err != nil {
		return nil, err
	}
	reserves, err := h.treasury.Reserves(ctx, asset)
	if err != nil {
		return nil, err
	}
	return &models.AssetReport{Asset: asset, Allocations: allocs, PendingAllowance: allowance, Reserves: reserves}, nil
}

func (h *TreasuryEchoHandler) SetAllocation(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.AllocationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	amount, err := fixed.Parse(req.Amount)
	if err != nil {
		return h.respond(c, "set_allocation", start, nil, err)
	}
	tolerance, err := fixed.Parse(req.Tolerance)
	if err != nil {
		return h.respond(c, "set_allocation", start, nil, err)
	}
	res, err := h.treasury.SetAllocation(c.Request().Context(), who, req.Asset, models.Allocation{
		Nick:      req.Nick,
		Contract:  models.Contract{Address: req.Address, CodeHash: req.CodeHash},
		AllocType: req.AllocType,
		Amount:    amount,
		Tolerance: tolerance,
	})
	return h.respond(c, "set_allocation", start, res, err)
}

func (h *TreasuryEchoHandler) Shares(c echo.Context) error {
	start := time.Now()
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	shares, err := h.treasury.HoldingShares(c.Request().Context(), req.Asset)
	return h.respond(c, "shares", start, shares, err)
}

// Deposit is the transfer callback used by hosts that push receipts over HTTP.
// The caller header names the contract delivering the receipt, which must be
// the asset's token contract.
func (h *TreasuryEchoHandler) Deposit(c echo.Context) error {
	start := time.Now()
	notifier, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.DepositRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	amount, err := fixed.Parse(req.Amount)
	if err != nil {
		return h.respond(c, "deposit", start, nil, err)
	}
	sender := req.Sender
	if sender == "" {
		sender = req.From
	}
	res, err := h.treasury.ReceiveDeposit(c.Request().Context(), models.TransferNotification{
		TxHash:   req.TxHash,
		Token:    req.Asset,
		Notifier: notifier,
		Sender:   sender,
		From:     req.From,
		Amount:   amount,
	})
	return h.respond(c, "deposit", start, res, err)
}

// Rebalance runs the planner now, or queues it when ?async=true.
func (h *TreasuryEchoHandler) Rebalance(c echo.Context) error {
	start := time.Now()
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if async(c) {
		return h.schedule(c, start, req.Asset)
	}
	res, err := h.treasury.Rebalance(c.Request().Context(), caller(c), req.Asset)
	return h.respond(c, "rebalance", start, res, err)
}

func (h *TreasuryEchoHandler) RebalanceAll(c echo.Context) error {
	start := time.Now()
	if async(c) {
		return h.schedule(c, start, "")
	}
	res, err := h.treasury.RebalanceAll(c.Request().Context(), caller(c))
	if err != nil && len(res) > 0 {
		// per-asset failures are reported in the results
		h.logger.Warn("rebalance pass incomplete", xlogger.Error(err))
		err = nil
	}
	return h.respond(c, "rebalance_all", start, res, err)
}

func async(c echo.Context) bool {
	v, _ := strconv.ParseBool(c.QueryParam("async"))
	return v
}

func (h *TreasuryEchoHandler) schedule(c echo.Context, start time.Time, asset string) error {
	if h.scheduler == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_NO_QUEUE", "async", "async rebalance is not configured", http.StatusNotImplemented))
	}
	if err := h.scheduler.Schedule(c.Request().Context(), caller(c), asset); err != nil {
		return h.respond(c, "rebalance_schedule", start, nil, err)
	}
	apimetrics.APILatency.WithLabelValues("rebalance_schedule").Observe(time.Since(start).Seconds())
	return xhttp.AcceptedResponse(c, map[string]string{"asset": asset, "status": "queued"})
}

func (h *TreasuryEchoHandler) Unbond(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.AmountRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	amount, err := fixed.Parse(req.Amount)
	if err != nil {
		return h.respond(c, "unbond", start, nil, err)
	}
	res, err := h.treasury.Unbond(c.Request().Context(), who, req.Asset, amount)
	return h.respond(c, "unbond", start, res, err)
}

func (h *TreasuryEchoHandler) Claim(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.treasury.Claim(c.Request().Context(), who, req.Asset)
	return h.respond(c, "claim", start, res, err)
}

func (h *TreasuryEchoHandler) Holders(c echo.Context) error {
	start := time.Now()
	holders, err := h.treasury.Holders(c.Request().Context())
	if err != nil {
		return h.respond(c, "holders", start, nil, err)
	}
	apimetrics.APILatency.WithLabelValues("holders").Observe(time.Since(start).Seconds())
	return xhttp.ListResponse(c, holders, int64(len(holders)))
}

func (h *TreasuryEchoHandler) AddHolder(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.HolderRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.treasury.AddHolder(c.Request().Context(), who, req.Holder)
	return h.respond(c, "add_holder", start, res, err)
}

func (h *TreasuryEchoHandler) RemoveHolder(c echo.Context) error {
	start := time.Now()
	who, ok := requireCaller(c)
	if !ok {
		return xhttp.UnauthorizedResponse(c, "missing "+HeaderCaller)
	}
	req := &models.HolderRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.treasury.RemoveHolder(c.Request().Context(), who, req.Holder)
	return h.respond(c, "remove_holder", start, res, err)
}

func (h *TreasuryEchoHandler) Holding(c echo.Context) error {
	start := time.Now()
	req := &models.HolderRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	holding, err := h.treasury.Holding(c.Request().Context(), req.Holder)
	return h.respond(c, "holding", start, holding, err)
}

func (h *TreasuryEchoHandler) Position(c echo.Context) error {
	start := time.Now()
	req := &models.HolderAssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pos, err := h.position(c.Request().Context(), req.Holder, req.Asset)
	return h.respond(c, "position", start, pos, err)
}

func (h *TreasuryEchoHandler) position(ctx context.Context, holder, asset string) (*models.HolderPosition, error) {
	pos := &models.HolderPosition{Holder: holder, Asset: asset}
	var err error
	if pos.Balance, err = h.treasury.Balance(ctx, holder, asset); err != nil {
		return nil, err
	}
	if pos.Unbonding, err = h.treasury.Unbonding(ctx, holder, asset); err != nil {
		return nil, err
	}
	if pos.Claimable, err = h.treasury.Claimable(ctx, holder, asset); err != nil {
		return nil, err
	}
	if pos.Unbondable, err = h.treasury.Unbondable(ctx, holder, asset); err != nil {
		return nil, err
	}
	return pos, nil
}

func (h *TreasuryEchoHandler) Journal(c echo.Context) error {
	start := time.Now()
	if h.audit == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_NO_JOURNAL", "", "journal is not configured", http.StatusNotImplemented))
	}
	req := &models.JournalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from := xutil.ParseTimeDefault(req.From, time.Time{})
	to := xutil.ParseTimeDefault(req.To, time.Time{})
	rows, err := h.audit.Entries(c.Request().Context(), req.Asset, from, to, req.Limit)
	if err != nil {
		return h.respond(c, "journal", start, nil, err)
	}
	apimetrics.APILatency.WithLabelValues("journal").Observe(time.Since(start).Seconds())
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
