package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/richardliu001/wallet-ledger/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler serves the wallet API.
type Handler struct {
	svc      *service.WalletService
	sub      notify.Subscriber
	sessOpts session.Options
	log      *zap.SugaredLogger
}

func NewHandler(svc *service.WalletService, sub notify.Subscriber, sessOpts session.Options, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sub: sub, sessOpts: sessOpts, log: log}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/limits", h.limits)

	w := r.Group("/wallets/:userId")
	{
		w.GET("", h.wallet)
		w.GET("/balance", h.balance)
		w.GET("/transactions", h.transactions)
		w.GET("/withdrawals", h.withdrawals)
		w.GET("/stats", h.stats)
		w.GET("/ws", h.stream)

		w.POST("/deposit", h.deposit)
		w.POST("/payment", h.payment)
		w.POST("/earning", h.earning)
		w.POST("/withdrawals", h.requestWithdrawal)
	}

	wr := r.Group("/withdrawals")
	{
		wr.GET("", h.withdrawalQueue)
		wr.GET("/:id", h.withdrawal)
		wr.POST("/:id/approve", h.approve)
		wr.POST("/:id/reject", h.reject)
		wr.POST("/:id/start", h.start)
		wr.POST("/:id/complete", h.complete)
		wr.POST("/:id/fail", h.failWithdrawal)
		wr.POST("/:id/cancel", h.cancel)
	}
}

// parseAmount accepts whole positive numbers only; 1.5 and 1e3 with a fraction are rejected.
func parseAmount(n json.Number) (int64, error) {
	d, err := decimal.NewFromString(string(n))
	if err != nil || !d.IsInteger() || d.Sign() <= 0 {
		return 0, service.ErrInvalidAmount
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, service.ErrAmountOutOfRange
	}
	return d.IntPart(), nil
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}

func (h *Handler) limits(c *gin.Context) {
	ok(c, h.svc.Limits())
}

func (h *Handler) wallet(c *gin.Context) {
	w, err := h.svc.GetOrCreateWallet(c.Request.Context(), callerFrom(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, w)
}

func (h *Handler) balance(c *gin.Context) {
	bal, err := h.svc.GetBalance(c.Request.Context(), callerFrom(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"balance": bal})
}

func (h *Handler) transactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.sessOpts.HistoryLimit)))
	if err != nil || limit < 0 {
		h.badRequest(c, errors.New("limit must be a non-negative integer"))
		return
	}
	txs, err := h.svc.ListTransactions(c.Request.Context(), callerFrom(c), c.Param("userId"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, txs)
}

func (h *Handler) withdrawals(c *gin.Context) {
	ws, err := h.svc.ListWithdrawals(c.Request.Context(), callerFrom(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, ws)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), callerFrom(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, st)
}

type depositReq struct {
	Amount      json.Number `json:"amount" binding:"required"`
	Method      string      `json:"method" binding:"required"`
	Description string      `json:"description"`
	Reference   string      `json:"reference"`
}

func (h *Handler) deposit(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.svc.Deposit(c.Request.Context(), callerFrom(c), c.Param("userId"), amount, req.Method, req.Description, req.Reference)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, t)
}

type paymentReq struct {
	Amount      json.Number `json:"amount" binding:"required"`
	OrderID     string      `json:"order_id" binding:"required"`
	Description string      `json:"description"`
}

func (h *Handler) payment(c *gin.Context) {
	var req paymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.svc.Payment(c.Request.Context(), callerFrom(c), c.Param("userId"), amount, req.OrderID, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, t)
}

type earningReq struct {
	Amount      json.Number `json:"amount" binding:"required"`
	OrderID     string      `json:"order_id" binding:"required"`
	Commission  int64       `json:"commission"`
	Description string      `json:"description"`
}

func (h *Handler) earning(c *gin.Context) {
	var req earningReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	t, err := h.svc.Earning(c.Request.Context(), callerFrom(c), c.Param("userId"), amount, req.OrderID, req.Commission, req.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, t)
}

type withdrawalReq struct {
	Amount json.Number            `json:"amount" binding:"required"`
	Method model.WithdrawalMethod `json:"method" binding:"required"`
	// AccountDetails is stored verbatim: phone number for mobile money, bank coordinates otherwise.
	AccountDetails json.RawMessage `json:"account_details"`
}

func (h *Handler) requestWithdrawal(c *gin.Context) {
	var req withdrawalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	details := string(req.AccountDetails)
	if details == "" {
		details = "{}"
	}
	w, err := h.svc.RequestWithdrawal(c.Request.Context(), callerFrom(c), c.Param("userId"), amount, req.Method, details)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": w})
}

func (h *Handler) withdrawal(c *gin.Context) {
	w, err := h.svc.GetWithdrawal(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, w)
}

// withdrawalQueue lists requests by status for operators: ?status=pending&before=RFC3339&limit=.
func (h *Handler) withdrawalQueue(c *gin.Context) {
	status := model.WithdrawalStatus(c.DefaultQuery("status", string(model.WithdrawalPending)))
	before := time.Now().UTC()
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		before = t
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		h.badRequest(c, err)
		return
	}
	ws, err := h.svc.ListWithdrawalsByStatus(c.Request.Context(), callerFrom(c), status, before, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, ws)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

// transition wraps a workflow call that takes the request id and an optional reason.
func (h *Handler) transition(fn func(c *gin.Context, id, reason string) (*model.WithdrawalRequest, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				h.badRequest(c, err)
				return
			}
		}
		w, err := fn(c, c.Param("id"), req.Reason)
		if err != nil {
			h.fail(c, err)
			return
		}
		ok(c, w)
	}
}

func (h *Handler) approve(c *gin.Context) {
	h.transition(func(c *gin.Context, id, _ string) (*model.WithdrawalRequest, error) {
		return h.svc.Approve(c.Request.Context(), callerFrom(c), id)
	})(c)
}

func (h *Handler) reject(c *gin.Context) {
	h.transition(func(c *gin.Context, id, reason string) (*model.WithdrawalRequest, error) {
		return h.svc.Reject(c.Request.Context(), callerFrom(c), id, reason)
	})(c)
}

func (h *Handler) start(c *gin.Context) {
	h.transition(func(c *gin.Context, id, _ string) (*model.WithdrawalRequest, error) {
		return h.svc.StartProcessing(c.Request.Context(), callerFrom(c), id)
	})(c)
}

func (h *Handler) complete(c *gin.Context) {
	h.transition(func(c *gin.Context, id, _ string) (*model.WithdrawalRequest, error) {
		return h.svc.Complete(c.Request.Context(), callerFrom(c), id)
	})(c)
}

func (h *Handler) failWithdrawal(c *gin.Context) {
	h.transition(func(c *gin.Context, id, reason string) (*model.WithdrawalRequest, error) {
		return h.svc.Fail(c.Request.Context(), callerFrom(c), id, reason)
	})(c)
}

func (h *Handler) cancel(c *gin.Context) {
	h.transition(func(c *gin.Context, id, reason string) (*model.WithdrawalRequest, error) {
		return h.svc.Cancel(c.Request.Context(), callerFrom(c), id, reason)
	})(c)
}
