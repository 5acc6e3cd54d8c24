package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const balanceTTL = 5 * time.Minute

// MessageWriter is the subset of *kafka.Writer used for outbox relay.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RepositoryInterface restricts Repo methods so services can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetOrCreateWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	Credit(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error)
	Debit(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error)

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	SetTransactionStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.TransactionStatus) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error)
	TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id string, from, to model.WithdrawalStatus, fields map[string]interface{}) error
	ListWithdrawals(ctx context.Context, userID string) ([]model.WithdrawalRequest, error)
	ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, userID string, bal int64) error
	GetCachedBalance(ctx context.Context, userID string) (int64, error)
}

// Repository implements RepositoryInterface. rdb and writer may be nil.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer MessageWriter
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w MessageWriter, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.WithdrawalRequest{}, &model.OutboxEvent{})
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetOrCreateWallet inserts a zero-balance wallet if absent and returns the row.
func (r *Repository) GetOrCreateWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	now := time.Now().UTC()
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return r.GetWallet(ctx, tx, userID)
}

// GetWallet reads a wallet row.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// Credit increments balance in a single UPDATE so concurrent writers never lose an update.
func (r *Repository) Credit(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error) {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetWallet(ctx, tx, userID)
}

// Debit decrements balance only if balance >= amount, as one conditional UPDATE.
func (r *Repository) Debit(ctx context.Context, tx *gorm.DB, userID string, amount int64) (*model.Wallet, error) {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// either no wallet or not enough funds
		if _, err := r.GetWallet(ctx, tx, userID); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientBalance
	}
	return r.GetWallet(ctx, tx, userID)
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// SetTransactionStatus moves a transaction from one status to another, failing if it is not in from.
func (r *Repository) SetTransactionStatus(ctx context.Context, tx *gorm.DB, id string, from, to model.TransactionStatus) error {
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListTransactions returns newest first; limit <= 0 means all.
func (r *Repository) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	var txs []model.Transaction
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// CreateWithdrawal inserts a withdrawal request.
func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(w).Error
}

// GetWithdrawal reads a withdrawal request.
func (r *Repository) GetWithdrawal(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// TransitionWithdrawal is a compare-and-swap on status; zero rows means someone else moved it first.
func (r *Repository) TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id string, from, to model.WithdrawalStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListWithdrawals returns a user's requests, newest first.
func (r *Repository) ListWithdrawals(ctx context.Context, userID string) ([]model.WithdrawalRequest, error) {
	var ws []model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("request_date desc").Find(&ws).Error
	return ws, err
}

// ListWithdrawalsByStatus returns requests in status whose last stamp is before the cutoff, oldest first.
func (r *Repository) ListWithdrawalsByStatus(ctx context.Context, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error) {
	col := "request_date"
	switch status {
	case model.WithdrawalApproved:
		col = "approved_date"
	case model.WithdrawalProcessing:
		col = "processed_date"
	}
	var ws []model.WithdrawalRequest
	q := r.db.WithContext(ctx).
		Where("status = ? AND "+col+" <= ?", status, before).
		Order(col + " asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&ws).Error
	return ws, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by user so a partition keeps per-user order.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "outbox_id", Value: []byte(strconv.FormatUint(evt.ID, 10))},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

func balanceKey(userID string) string { return "balance:" + userID }

// CacheBalance writes Redis. No-op without a client.
func (r *Repository) CacheBalance(ctx context.Context, userID string, bal int64) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, balanceKey(userID), strconv.FormatInt(bal, 10), balanceTTL).Err()
}

// GetCachedBalance reads Redis. Returns redis.Nil on a miss or without a client.
func (r *Repository) GetCachedBalance(ctx context.Context, userID string) (int64, error) {
	if r.rdb == nil {
		return 0, redis.Nil
	}
	str, err := r.rdb.Get(ctx, balanceKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(str, 10, 64)
}
