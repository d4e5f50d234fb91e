package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"marketplace/db/migrations"
	"marketplace/internal/apperr"
)

// Dialect (драйвер базы данных)
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func init() {
	// modernc регистрирует драйвер под именем "sqlite", sqlx его не знает
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Config содержит параметры подключения к хранилищу
type Config struct {
	Driver       Dialect
	PostgresConn string
	SQLitePath   string
	MaxRetries   uint64
}

// Storage хранит сделки: тендеры, ставки, работы, депозиты, журнал рисков
type Storage struct {
	queries
	db         *sqlx.DB
	maxRetries uint64
	logger     *slog.Logger

	// OnConflict вызывается при каждом повторе транзакции после конфликта
	OnConflict func()
}

// Tx представляет открытую транзакцию. Все методы запросов доступны и на Tx, и на Storage.
type Tx struct {
	queries
	tx *sqlx.Tx
}

// queries выполняет SQL поверх пула или транзакции
type queries struct {
	ext     sqlx.ExtContext
	dialect Dialect
}

// Open подключается к базе данных выбранного диалекта
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	var (
		conn *sqlx.DB
		err  error
	)
	switch cfg.Driver {
	case DialectPostgres, "":
		if cfg.PostgresConn == "" {
			return nil, errors.New("postgres connection string is empty")
		}
		conn, err = sqlx.ConnectContext(ctx, "postgres", cfg.PostgresConn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		cfg.Driver = DialectPostgres
	case DialectSQLite:
		dsn, dsnErr := sqliteDSN(cfg.SQLitePath)
		if dsnErr != nil {
			return nil, dsnErr
		}
		conn, err = sqlx.ConnectContext(ctx, "sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("connect sqlite: %w", err)
		}
		// Один писатель: транзакции SQLite сериализуются на единственном соединении
		conn.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}

	return NewStorage(conn, cfg.Driver, cfg.MaxRetries, logger), nil
}

// NewStorage оборачивает уже открытое соединение
func NewStorage(conn *sqlx.DB, dialect Dialect, maxRetries uint64, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		queries:    queries{ext: conn, dialect: dialect},
		db:         conn,
		maxRetries: maxRetries,
		logger:     logger.With("component", "storage"),
	}
}

func sqliteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep), nil
}

// Migrate применяет встроенные миграции своего диалекта
func (s *Storage) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db.DB, string(s.dialect))
}

// Dialect возвращает диалект хранилища
func (s *Storage) Dialect() Dialect {
	return s.dialect
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// InTx выполняет fn в одной транзакции. Конфликты параллельной записи
// повторяются с экспоненциальной задержкой, после исчерпания попыток
// наружу уходит apperr.ErrConflict.
func (s *Storage) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(10*time.Millisecond))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := s.runTx(ctx, fn)
		if errors.Is(err, apperr.ErrConflict) {
			s.logger.Debug("transaction conflict", "attempt", attempt)
			if s.OnConflict != nil {
				s.OnConflict()
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Storage) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	opts := &sql.TxOptions{}
	if s.dialect == DialectPostgres {
		opts.Isolation = sql.LevelSerializable
	}
	sqlTx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return mapError(fmt.Errorf("begin tx: %w", err))
	}
	tx := &Tx{queries: queries{ext: sqlTx, dialect: s.dialect}, tx: sqlTx}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// Savepoint выполняет fn под точкой сохранения. Ошибка fn откатывает только
// изменения, сделанные внутри fn; внешняя транзакция остаётся рабочей.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %w", name, rbErr)
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return fmt.Errorf("release savepoint %s: %w", name, relErr)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// mapError переводит ошибки драйверов о конфликте сериализации,
// взаимной блокировке и нарушении уникальности в apperr.ErrConflict
func mapError(err error) error {
	if err == nil || errors.Is(err, apperr.ErrConflict) {
		return err
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", apperr.ErrConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
	}
	return false
}

// forUpdate возвращает суффикс блокировки строки. SQLite блокирует на запись весь файл
func (q queries) forUpdate() string {
	if q.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q queries) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(string(q.dialect)), query)
}

func (q queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}

func (q queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.rebind(query), args...)
}

func (q queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ext.ExecContext(ctx, q.rebind(query), args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// casExec выполняет UPDATE с проверкой версии; ноль строк означает потерянную гонку
func (q queries) casExec(ctx context.Context, query string, args ...any) error {
	n, err := q.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrConflict
	}
	return nil
}

// now отдаёт время для записей в UTC
func now() time.Time {
	return time.Now().UTC()
}
