package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets map[string]map[string]string

func (f fakeSecrets) GetMap(ctx context.Context, name string) (map[string]string, error) {
	v, ok := f[name]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return v, nil
}

func TestRegistry(t *testing.T) {
	r := Registry{"reporting": "reporting_secret", "billing": "billing_secret"}

	name, err := r.SecretName("billing")
	require.NoError(t, err)
	assert.Equal(t, "billing_secret", name)

	_, err = r.SecretName("missing")
	assert.ErrorIs(t, err, ErrUnknownDatabase)
	assert.Contains(t, err.Error(), "[billing reporting]")

	assert.Equal(t, []string{"production_ro"}, DefaultRegistry().Names())
}

func TestConnInfoFromSecret(t *testing.T) {
	base := map[string]string{"host": "db.local", "database": "app", "user": "svc", "password": "p'w"}

	info, err := ConnInfoFromSecret(base)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, info.Port)
	assert.Equal(t,
		`host='db.local' port=5432 dbname='app' user='svc' password='p\'w' sslmode=require sslrootcert='/certs/root.crt'`,
		info.DSN("/certs/root.crt"))

	withPort := map[string]string{"port": "6543"}
	for k, v := range base {
		withPort[k] = v
	}
	info, err = ConnInfoFromSecret(withPort)
	require.NoError(t, err)
	assert.Equal(t, 6543, info.Port)

	withPort["port"] = "abc"
	_, err = ConnInfoFromSecret(withPort)
	assert.Error(t, err)

	_, err = ConnInfoFromSecret(map[string]string{"host": "db.local"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database, user, password")
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	registry := Registry{"reporting": "reporting_secret"}

	_, err := Open(ctx, fakeSecrets{}, registry, "billing")
	assert.ErrorIs(t, err, ErrUnknownDatabase)

	_, err = Open(ctx, fakeSecrets{}, registry, "reporting")
	assert.EqualError(t, err, "secret not found")

	_, err = Open(ctx, fakeSecrets{"reporting_secret": {"host": "db.local"}}, registry, "reporting")
	assert.Error(t, err)
}

func TestBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(int64(i), "row")
	}
	mock.ExpectQuery("SELECT id, name FROM items").WillReturnRows(rows)

	result, err := db.Query("SELECT id, name FROM items")
	require.NoError(t, err)

	var sizes []int
	var ids []any
	err = Batches(result, 2, func(batch [][]any) error {
		sizes = append(sizes, len(batch))
		for _, row := range batch {
			ids = append(ids, row[0])
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchesStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM items").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	result, err := db.Query("SELECT id FROM items")
	require.NoError(t, err)

	calls := 0
	stop := errors.New("stop")
	err = Batches(result, 1, func(batch [][]any) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestBatchesRowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM items").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, driver.ErrBadConn))

	result, err := db.Query("SELECT id FROM items")
	require.NoError(t, err)

	err = Batches(result, 10, func(batch [][]any) error { return nil })
	assert.Error(t, err)
}
