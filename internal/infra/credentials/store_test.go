package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	token string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestComputeAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.ComputeAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc123", key)
}

func TestComputeAPIKeyNoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.ComputeAPIKey(context.Background())
	require.NoError(t, err)
	require.Empty(t, key)
}

func TestSetComputeAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	require.NoError(t, store.SetComputeAPIKey(context.Background(), "secret"))
	require.Len(t, exec.exec.args, 3)
	require.Equal(t, "secret", exec.exec.args[1])
}

func TestSetComputeAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	require.Error(t, store.SetComputeAPIKey(context.Background(), " "))
}
