package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/richardliu001/wallet-ledger/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type env struct {
	router *gin.Engine
	svc    *service.WalletService
	tokens *auth.Tokens
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, repo.AutoMigrate(db))

	log := zap.NewNop().Sugar()
	broker := notify.NewBroker(log)
	svc := service.NewWalletService(repo.NewRepository(db, nil, nil, log), broker, service.Options{}, log)
	tokens := auth.NewTokens("test-secret", "wallet-ledger")
	h := NewHandler(svc, broker, session.Options{HistoryLimit: 20}, log)
	router := NewRouter(h, tokens, config.RateLimitConfig{RPS: 1000, Burst: 1000}, log)
	return &env{router: router, svc: svc, tokens: tokens}
}

func (e *env) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := e.tokens.Issue(auth.Caller{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var out envelope
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodGet, "/v1/wallets/alice/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/v1/wallets/alice/balance", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	other := auth.NewTokens("other-secret", "wallet-ledger")
	tok, err := other.Issue(auth.Caller{UserID: "alice", Role: auth.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	code, _ = e.do(t, http.MethodGet, "/v1/wallets/alice/balance", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestDepositAndPayment(t *testing.T) {
	e := newEnv(t)
	alice := e.token(t, "alice", auth.RoleCustomer)

	code, res := e.do(t, http.MethodPost, "/v1/wallets/alice/deposit", alice,
		map[string]interface{}{"amount": 50000, "method": "orange", "description": "top-up"})
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.True(t, res.Success)

	code, res = e.do(t, http.MethodPost, "/v1/wallets/alice/payment", alice,
		map[string]interface{}{"amount": 60000, "order_id": "order-1", "description": "order"})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.False(t, res.Success)
	assert.Equal(t, "Insufficient balance", res.Error)

	code, res = e.do(t, http.MethodGet, "/v1/wallets/alice/balance", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"balance":50000}`, string(res.Data))

	code, res = e.do(t, http.MethodGet, "/v1/wallets/alice/transactions?limit=10", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var txs []map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Data, &txs))
	assert.Len(t, txs, 1)
}

func TestAmountValidation(t *testing.T) {
	e := newEnv(t)
	alice := e.token(t, "alice", auth.RoleCustomer)

	for _, amount := range []interface{}{1.5, -100, 0, "abc"} {
		code, res := e.do(t, http.MethodPost, "/v1/wallets/alice/deposit", alice,
			map[string]interface{}{"amount": amount, "method": "orange"})
		assert.Equal(t, http.StatusBadRequest, code, "amount %v", amount)
		assert.False(t, res.Success)
	}

	code, _ := e.do(t, http.MethodPost, "/v1/wallets/alice/deposit", alice,
		map[string]interface{}{"amount": 100, "method": "orange"})
	assert.Equal(t, http.StatusBadRequest, code, "below MIN_DEPOSIT")
}

func TestForbidden(t *testing.T) {
	e := newEnv(t)
	bob := e.token(t, "bob", auth.RoleCustomer)

	code, _ := e.do(t, http.MethodGet, "/v1/wallets/alice", bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = e.do(t, http.MethodPost, "/v1/wallets/bob/earning", bob,
		map[string]interface{}{"amount": 5000, "order_id": "o-1", "commission": 500})
	assert.Equal(t, http.StatusForbidden, code, "customers cannot credit earnings")

	system := e.token(t, "checkout", auth.RoleSystem)
	code, res := e.do(t, http.MethodPost, "/v1/wallets/bob/earning", system,
		map[string]interface{}{"amount": 5000, "order_id": "o-1", "commission": 500})
	assert.Equal(t, http.StatusOK, code, res.Error)
}

func TestWithdrawalWorkflow(t *testing.T) {
	e := newEnv(t)
	alice := e.token(t, "alice", auth.RoleCustomer)
	ops := e.token(t, "ops-1", auth.RoleOperator)

	code, _ := e.do(t, http.MethodPost, "/v1/wallets/alice/deposit", alice,
		map[string]interface{}{"amount": 50000, "method": "orange"})
	require.Equal(t, http.StatusOK, code)

	code, res := e.do(t, http.MethodPost, "/v1/wallets/alice/withdrawals", alice, map[string]interface{}{
		"amount": 20000, "method": "orange", "account_details": map[string]string{"phone": "+2250700000000"},
	})
	require.Equal(t, http.StatusCreated, code, res.Error)
	var w struct {
		ID        string `json:"id"`
		Fee       int64  `json:"fee"`
		NetAmount int64  `json:"netAmount"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &w))
	assert.Equal(t, int64(400), w.Fee)
	assert.Equal(t, int64(19600), w.NetAmount)
	assert.Equal(t, "pending", w.Status)

	code, _ = e.do(t, http.MethodPost, "/v1/withdrawals/"+w.ID+"/approve", alice, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, res = e.do(t, http.MethodGet, "/v1/withdrawals?status=pending", ops, nil)
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Contains(t, string(res.Data), w.ID)

	for _, step := range []string{"approve", "start"} {
		code, res = e.do(t, http.MethodPost, "/v1/withdrawals/"+w.ID+"/"+step, ops, nil)
		require.Equal(t, http.StatusOK, code, "%s: %s", step, res.Error)
	}
	code, res = e.do(t, http.MethodPost, "/v1/withdrawals/"+w.ID+"/fail", ops, map[string]string{"reason": "network error"})
	require.Equal(t, http.StatusOK, code, res.Error)
	assert.Contains(t, string(res.Data), `"failureReason":"network error"`)

	code, res = e.do(t, http.MethodPost, "/v1/withdrawals/"+w.ID+"/fail", ops, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, res.Success)

	code, res = e.do(t, http.MethodGet, "/v1/wallets/alice/balance", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"balance":50000}`, string(res.Data))

	code, _ = e.do(t, http.MethodPost, "/v1/withdrawals/nope/approve", ops, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, res = e.do(t, http.MethodGet, "/v1/wallets/alice/stats", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"totalDeposits":50000`)
}

func TestLimits(t *testing.T) {
	e := newEnv(t)
	code, res := e.do(t, http.MethodGet, "/v1/limits", e.token(t, "alice", auth.RoleCustomer), nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"MIN_DEPOSIT":500,"MAX_DEPOSIT":2000000,"MIN_WITHDRAWAL":1000,"MAX_WITHDRAWAL":1000000}`, string(res.Data))
}

func TestStream_PushesSnapshots(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/wallets/alice/ws?access_token=" + e.token(t, "alice", auth.RoleCustomer)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type msg struct {
		Type string `json:"type"`
		Data struct {
			Wallet struct {
				Balance int64 `json:"balance"`
			} `json:"wallet"`
		} `json:"data"`
	}
	read := func() msg {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m msg
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	first := read()
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, int64(0), first.Data.Wallet.Balance)

	_, err = e.svc.Deposit(context.Background(), auth.Caller{UserID: "alice", Role: auth.RoleCustomer}, "alice", 7000, "mtn", "", "")
	require.NoError(t, err)

	var got int64
	for i := 0; i < 5 && got != 7000; i++ {
		got = read().Data.Wallet.Balance
	}
	assert.Equal(t, int64(7000), got)
}

func TestStream_Forbidden(t *testing.T) {
	e := newEnv(t)
	code, _ := e.do(t, http.MethodGet, "/v1/wallets/alice/ws", e.token(t, "bob", auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, code)
}
