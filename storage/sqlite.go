package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nubster/egide/interfaces"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// kvEntry is the current value of a key.
type kvEntry struct {
	Key       string `gorm:"primaryKey;size:512"`
	Value     []byte `gorm:"not null"`
	Version   int64  `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "kv_store" }

// kvHistory records every write for audit. Values are not copied into
// history; wrapped material stays in kv_store only. Actor is the account of
// the request that made the write, empty for internal writes.
type kvHistory struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Key       string `gorm:"index;size:512;not null"`
	Version   int64  `gorm:"not null"`
	Operation string `gorm:"size:16;not null"`
	Actor     string `gorm:"size:128"`
	CreatedAt time.Time
}

func (kvHistory) TableName() string { return "kv_history" }

// SQLiteBackend stores keys in a SQLite database through gorm. Transactions
// map onto database transactions.
type SQLiteBackend struct {
	db          *gorm.DB
	log         *slog.Logger
	locationURI string
}

// NewSQLiteBackend opens (or creates) the database at dsn and migrates the schema.
// Use ":memory:" or "file::memory:?cache=shared" for an ephemeral database.
func NewSQLiteBackend(dsn string, log *slog.Logger) (*SQLiteBackend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	return NewSQLiteBackendFromDB(db, dsn, log)
}

// NewSQLiteBackendFromDB wraps an existing gorm connection.
func NewSQLiteBackendFromDB(db *gorm.DB, dsn string, log *slog.Logger) (*SQLiteBackend, error) {
	if err := db.AutoMigrate(&kvEntry{}, &kvHistory{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &SQLiteBackend{
		db:          db,
		log:         log,
		locationURI: fmt.Sprintf("sqlite://%s", dsn),
	}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return sqliteGet(b.db.WithContext(ctx), key)
}

func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.Txn(ctx, func(tx interfaces.Txn) error {
		return tx.Put(key, value)
	})
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	return b.Txn(ctx, func(tx interfaces.Txn) error {
		return tx.Delete(key)
	})
}

func (b *SQLiteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := b.db.WithContext(ctx).Model(&kvEntry{})
	if prefix != "" {
		q = q.Where("`key` LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := q.Order("`key` ASC").Pluck("key", &keys).Error; err != nil {
		b.log.ErrorContext(ctx, "failed to list keys", "operation", "List", "prefix", prefix, "error", err)
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (b *SQLiteBackend) Txn(ctx context.Context, fn func(tx interfaces.Txn) error) error {
	return b.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&sqliteTxn{db: db, actor: actorFrom(ctx)})
	})
}

func (b *SQLiteBackend) Available(ctx context.Context) bool {
	sqlDB, err := b.db.DB()
	if err != nil {
		return false
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		b.log.Debug("SQLite backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *SQLiteBackend) Name() string {
	return "sqlite"
}

func (b *SQLiteBackend) LocationURI() string {
	return b.locationURI
}

// History returns the recorded operations for key, oldest first, as
// "operation@version" with " by actor" appended when the writer was known.
func (b *SQLiteBackend) History(ctx context.Context, key string) ([]string, error) {
	var rows []kvHistory
	if err := b.db.WithContext(ctx).Where("`key` = ?", key).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	ops := make([]string, len(rows))
	for i, r := range rows {
		ops[i] = fmt.Sprintf("%s@%d", r.Operation, r.Version)
		if r.Actor != "" {
			ops[i] += " by " + r.Actor
		}
	}
	return ops, nil
}

func actorFrom(ctx context.Context) string {
	if auth, ok := interfaces.AuthContextFrom(ctx); ok {
		return auth.AccountID
	}
	return ""
}

type sqliteTxn struct {
	db    *gorm.DB
	actor string
}

func (t *sqliteTxn) Get(key string) ([]byte, error) {
	return sqliteGet(t.db, key)
}

func (t *sqliteTxn) Put(key string, value []byte) error {
	var existing kvEntry
	err := t.db.Where("`key` = ?", key).Take(&existing).Error
	version := int64(1)
	switch {
	case err == nil:
		version = existing.Version + 1
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to read key: %w", err)
	}

	entry := kvEntry{Key: key, Value: value, Version: version}
	if err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "version", "updated_at"}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	return t.db.Create(&kvHistory{Key: key, Version: version, Operation: "put", Actor: t.actor}).Error
}

func (t *sqliteTxn) Delete(key string) error {
	var existing kvEntry
	err := t.db.Where("`key` = ?", key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	if err := t.db.Where("`key` = ?", key).Delete(&kvEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return t.db.Create(&kvHistory{Key: key, Version: existing.Version, Operation: "delete", Actor: t.actor}).Error
}

func sqliteGet(db *gorm.DB, key string) ([]byte, error) {
	var entry kvEntry
	err := db.Where("`key` = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return entry.Value, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
