// Package history records served predictions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/born-ml/wastenet/internal/config"
)

// ErrInvalidTable is returned for table names that are not plain
// identifiers.
var ErrInvalidTable = errors.New("history: invalid table name")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Record is one served prediction.
type Record struct {
	RequestID   string
	Filename    string
	ClassIndex  int
	Label       string
	Probability float32
	LatencyMs   int64
	Backend     string
	CreatedAt   time.Time
}

// Store persists prediction records.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Close() error
}

// Open returns a MySQL store for cfg, or a Nop store when cfg.DSN is empty.
func Open(cfg config.HistoryConfig) (Store, error) {
	if cfg.DSN == "" {
		return Nop{}, nil
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	dsn.ParseTime = true
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	db := sql.OpenDB(connector)
	store, err := NewMySQL(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Nop discards every record.
type Nop struct{}

// Insert does nothing.
func (Nop) Insert(context.Context, Record) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// MySQL stores records in a MySQL table.
type MySQL struct {
	db    *sql.DB
	table string
}

// NewMySQL wraps db and creates table if it does not exist.
func NewMySQL(db *sql.DB, table string) (*MySQL, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s := &MySQL{db: db, table: table}
	if err := s.initTable(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQL) initTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.createTableSQL()); err != nil {
		return fmt.Errorf("history: create table %s: %w", s.table, err)
	}
	klog.V(1).Infof("history table %s ready", s.table)
	return nil
}

func (s *MySQL) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		request_id CHAR(36) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		class_index INT NOT NULL,
		label VARCHAR(64) NOT NULL,
		probability FLOAT NOT NULL,
		latency_ms BIGINT NOT NULL,
		backend VARCHAR(16) NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (request_id));`, s.table)
}

func (s *MySQL) insertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (
		request_id,
		filename,
		class_index,
		label,
		probability,
		latency_ms,
		backend,
		created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`, s.table)
}

// Insert stores r.
func (s *MySQL) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, s.insertSQL(),
		r.RequestID, r.Filename, r.ClassIndex, r.Label,
		r.Probability, r.LatencyMs, r.Backend, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", r.RequestID, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *MySQL) Close() error {
	return s.db.Close()
}
