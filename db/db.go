// Package db opens PostgreSQL connections from credentials kept in Secrets
// Manager and iterates large query results in batches.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Connection defaults.
const (
	DefaultPort      = 5432
	DefaultBatchSize = 1500
	SSLMode          = "require"
)

// ErrUnknownDatabase is returned when a lookup name is not in the Registry.
var ErrUnknownDatabase = errors.New("database not found")

// SecretReader returns a secret as key/value pairs.
type SecretReader interface {
	GetMap(ctx context.Context, name string) (map[string]string, error)
}

// Registry maps database lookup names to the secrets holding their
// connection details.
type Registry map[string]string

// DefaultRegistry returns the databases known out of the box.
func DefaultRegistry() Registry {
	return Registry{"production_ro": "production_key_name"}
}

// Names returns the lookup names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SecretName returns the secret for the lookup name.
func (r Registry) SecretName(name string) (string, error) {
	secret, ok := r[name]
	if !ok {
		return "", fmt.Errorf("%w: %s, available databases are: %v", ErrUnknownDatabase, name, r.Names())
	}
	return secret, nil
}

// ConnInfo holds the fields a database secret must contain.
type ConnInfo struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ConnInfoFromSecret reads host, port, database, user and password from a
// secret. A missing port means DefaultPort.
func ConnInfoFromSecret(secret map[string]string) (ConnInfo, error) {
	info := ConnInfo{
		Host:     secret["host"],
		Port:     DefaultPort,
		Database: secret["database"],
		User:     secret["user"],
		Password: secret["password"],
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"host", info.Host}, {"database", info.Database}, {"user", info.User}, {"password", info.Password},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return ConnInfo{}, fmt.Errorf("database secret is missing %s", strings.Join(missing, ", "))
	}

	if p, ok := secret["port"]; ok && p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return ConnInfo{}, fmt.Errorf("invalid database port %q", p)
		}
		info.Port = port
	}
	return info, nil
}

// DSN returns a lib/pq connection string requiring TLS verified against
// rootCert.
func (c ConnInfo) DSN(rootCert string) string {
	parts := []string{
		"host=" + quote(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"dbname=" + quote(c.Database),
		"user=" + quote(c.User),
		"password=" + quote(c.Password),
		"sslmode=" + SSLMode,
	}
	if rootCert != "" {
		parts = append(parts, "sslrootcert="+quote(rootCert))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DefaultRootCert returns ~/.postgresql/postgresql.crt.
func DefaultRootCert() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".postgresql", "postgresql.crt")
}

// Open connects to the database registered under name and verifies the
// connection with a ping.
func Open(ctx context.Context, secrets SecretReader, registry Registry, name string) (*sql.DB, error) {
	secretName, err := registry.SecretName(name)
	if err != nil {
		return nil, err
	}
	secret, err := secrets.GetMap(ctx, secretName)
	if err != nil {
		return nil, err
	}
	info, err := ConnInfoFromSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	connector, err := pq.NewConnector(info.DSN(DefaultRootCert()))
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings for %s: %w", name, err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	return db, nil
}

// Batches reads every row and calls fn with up to size rows at a time.
// Each row holds the scanned column values. rows is closed on return.
func Batches(rows *sql.Rows, size int, fn func(batch [][]any) error) error {
	defer func() { _ = rows.Close() }()
	if size <= 0 {
		size = DefaultBatchSize
	}

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}

	batch := make([][]any, 0, size)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		batch = append(batch, values)

		if len(batch) == size {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([][]any, 0, size)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
