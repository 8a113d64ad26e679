package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/model"
)

// Store defines the interface for all database operations of the core.
// Every method joins the transaction carried by ctx, if any.
type Store interface {
	DB() *gorm.DB
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateCassette(ctx context.Context, c *model.Cassette) error
	GetCassette(ctx context.Context, id string) (model.Cassette, error)
	LockCassette(ctx context.Context, id string) (model.Cassette, error)
	ListCassettes(ctx context.Context, filter CassetteFilter) ([]model.Cassette, error)
	UpdateCassetteStatus(ctx context.Context, c model.Cassette, to lifecycle.CassetteStatus, actor string, clearMachine bool, at time.Time) (model.Cassette, error)

	CreateTicket(ctx context.Context, t *model.ServiceTicket) error
	TicketNumberTaken(ctx context.Context, number string) (bool, error)
	GetTicket(ctx context.Context, id string, includeDeleted bool) (model.ServiceTicket, error)
	LockTicket(ctx context.Context, id string, includeDeleted bool) (model.ServiceTicket, error)
	UpdateTicket(ctx context.Context, t model.ServiceTicket, updates map[string]any) (model.ServiceTicket, error)
	SoftDeleteTicket(ctx context.Context, t model.ServiceTicket, actor string, at time.Time) error
	RestoreTicket(ctx context.Context, t model.ServiceTicket, actor string, at time.Time) error
	ListTicketsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.ServiceTicket, error)
	ListDetailsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.TicketDetail, error)

	CreateDelivery(ctx context.Context, d *model.DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (model.DeliveryRecord, error)
	MarkDeliveryReceived(ctx context.Context, id, actor string, at time.Time) error
	FindOpenDelivery(ctx context.Context, cassetteID string) (*model.DeliveryRecord, error)
	LatestDelivery(ctx context.Context, cassetteID string) (*model.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.DeliveryRecord, error)
	SoftDeleteDelivery(ctx context.Context, id, actor, cause string, at time.Time) error

	CreateRepair(ctx context.Context, r *model.RepairSubTicket) error
	GetRepair(ctx context.Context, id string, includeDeleted bool) (model.RepairSubTicket, error)
	UpdateRepair(ctx context.Context, r model.RepairSubTicket, updates map[string]any) (model.RepairSubTicket, error)
	ListRepairs(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.RepairSubTicket, error)
	SoftDeleteRepair(ctx context.Context, id, actor, cause string, at time.Time) error
	RestoreRepair(ctx context.Context, id string) error

	CreateReturn(ctx context.Context, r *model.ReturnRecord) error
	GetReturn(ctx context.Context, id string) (model.ReturnRecord, error)
	FindReturnForTicket(ctx context.Context, ticketID string) (*model.ReturnRecord, error)
	FindOpenReturnForCassette(ctx context.Context, cassetteID string) (*model.ReturnRecord, error)
	MarkReturnReceived(ctx context.Context, id, actor string, at time.Time) error
	ListReturnsForCassette(ctx context.Context, cassetteID string, includeDeleted bool) ([]model.ReturnRecord, error)
	SoftDeleteReturn(ctx context.Context, id, actor, cause string, at time.Time) error

	AppendHistory(ctx context.Context, rows ...model.StatusHistory) error
	ListHistory(ctx context.Context, entity lifecycle.EntityKind, entityID string) ([]model.StatusHistory, error)
}

// CassetteFilter narrows ListCassettes. Results are ordered by id.
type CassetteFilter struct {
	Status   lifecycle.CassetteStatus
	BankCode string
	AfterID  string
	Limit    int
}

// DeliveryFilter narrows ListDeliveries.
type DeliveryFilter struct {
	TicketID       string
	CassetteID     string
	IncludeDeleted bool
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

type txKey struct{}

// WithTx runs fn inside one database transaction. Returning an error rolls back.
// Calls nested inside fn reuse the outer transaction.
func (s *gormStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	var opts []*sql.TxOptions
	if s.isPostgres() {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
	return translate(err, "transaction")
}

func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

// conn returns the transaction in ctx or the base connection.
func (s *gormStore) conn(ctx context.Context) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func (s *gormStore) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// forUpdate adds a row lock where the dialect supports one.
// SQLite serialises writers at the database level instead.
func (s *gormStore) forUpdate(db *gorm.DB) *gorm.DB {
	if s.isPostgres() {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

// markDeleted sets the soft-delete marker on one live row of m's table.
func (s *gormStore) markDeleted(ctx context.Context, m any, id, actor, cause string, at time.Time, op string) error {
	err := s.conn(ctx).Model(m).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at":    at,
			"deleted_by":    actor,
			"deleted_cause": cause,
		}).Error
	return translate(err, op)
}

// translate maps driver errors onto domain error kinds and wraps the rest.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if lifecycle.KindOf(err) != nil {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, "", "", "unique constraint %s", pgErr.ConstraintName)
		case "40001", "40P01", "55P03":
			return lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, "", "", "%s", pgErr.Message)
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, "", "", "%s", liteErr.Error())
		case liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked:
			return lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, "", "", "%s", liteErr.Error())
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func notFound(err error, op, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &lifecycle.Error{Kind: lifecycle.ErrNotFound, Op: op, Entity: entity, ID: id}
	}
	return translate(err, op)
}

func staleVersion(op, entity, id string, version int64) error {
	return lifecycle.Errorf(lifecycle.ErrConcurrentModification, op, entity, id, "version %d is no longer current", version)
}

// first runs q.First and returns nil, nil when nothing matches.
func first[T any](q *gorm.DB, op string) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translate(err, op)
	}
	return &out, nil
}
