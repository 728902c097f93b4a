package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/wastenet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an in-memory database/sql driver that records Exec calls.
type recorder struct {
	mu      sync.Mutex
	queries []string
	args    [][]driver.Value
	fail    error
}

func (r *recorder) Connect(context.Context) (driver.Conn, error) { return &conn{r: r}, nil }
func (r *recorder) Driver() driver.Driver                       { return nil }

type conn struct{ r *recorder }

func (c *conn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (c *conn) Close() error                        { return nil }
func (c *conn) Begin() (driver.Tx, error)           { return nil, errors.New("transactions not supported") }

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if c.r.fail != nil {
		return nil, c.r.fail
	}
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	c.r.queries = append(c.r.queries, query)
	c.r.args = append(c.r.args, values)
	return driver.RowsAffected(1), nil
}

func TestOpen_EmptyDSNIsNop(t *testing.T) {
	s, err := Open(config.HistoryConfig{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)
	assert.NoError(t, s.Insert(context.Background(), Record{RequestID: "x"}))
	assert.NoError(t, s.Close())
}

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := Open(config.HistoryConfig{DSN: "not a dsn", Table: "predictions"})
	assert.Error(t, err)
}

func TestNewMySQL_CreatesTable(t *testing.T) {
	rec := &recorder{}
	db := sql.OpenDB(rec)
	defer db.Close()

	_, err := NewMySQL(db, "predictions")
	require.NoError(t, err)

	require.Len(t, rec.queries, 1)
	assert.True(t, strings.HasPrefix(rec.queries[0], "CREATE TABLE IF NOT EXISTS predictions ("))
}

func TestNewMySQL_RejectsTableName(t *testing.T) {
	for _, name := range []string{"", "x; DROP TABLE y", "1abc", "a-b"} {
		_, err := NewMySQL(sql.OpenDB(&recorder{}), name)
		assert.ErrorIs(t, err, ErrInvalidTable, name)
	}
}

func TestNewMySQL_CreateFails(t *testing.T) {
	rec := &recorder{fail: errors.New("access denied")}
	_, err := NewMySQL(sql.OpenDB(rec), "predictions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestMySQL_Insert(t *testing.T) {
	rec := &recorder{}
	s, err := NewMySQL(sql.OpenDB(rec), "history")
	require.NoError(t, err)
	defer s.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(context.Background(), Record{
		RequestID:   "0b6f4c1e-1111-2222-3333-444455556666",
		Filename:    "bottle.jpg",
		ClassIndex:  2,
		Label:       "Glass",
		Probability: 0.5,
		LatencyMs:   7,
		Backend:     "born",
		CreatedAt:   at,
	}))

	require.Len(t, rec.queries, 2)
	assert.True(t, strings.HasPrefix(rec.queries[1], "INSERT INTO history ("))
	assert.Equal(t, []driver.Value{
		"0b6f4c1e-1111-2222-3333-444455556666", "bottle.jpg", int64(2), "Glass",
		float64(0.5), int64(7), "born", at,
	}, rec.args[1])
}
