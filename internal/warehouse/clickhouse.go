package warehouse

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig configures the alternate warehouse backend. Tables are
// read from Database, which plays the role of the dataset.
type ClickHouseConfig struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// ClickHouseSource reads tables from ClickHouse.
type ClickHouseSource struct {
	conn     driver.Conn
	database string
}

// NewClickHouseSource opens and pings a connection.
func NewClickHouseSource(ctx context.Context, cfg ClickHouseConfig, version string) (*ClickHouseSource, error) {
	if len(cfg.Addr) == 0 {
		return nil, fmt.Errorf("clickhouse address is required")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct{ Name, Version string }{{Name: "adperf", Version: version}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &ClickHouseSource{conn: conn, database: cfg.Database}, nil
}

// Fetch runs SELECT * against the table. Nullable columns scan into
// pointers which are flattened to nil or the pointed-to value.
func (s *ClickHouseSource) Fetch(ctx context.Context, table string) (*Table, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s", Ref("", s.database, table)))
	if err != nil {
		return nil, loadFailure(table, err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	out := &Table{Name: table, Columns: make([]string, len(types))}
	for i, ct := range types {
		out.Columns[i] = ct.Name()
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, loadFailure(table, err)
		}
		row := make([]any, len(dest))
		for i, d := range dest {
			row[i] = deref(reflect.ValueOf(d).Elem())
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, loadFailure(table, err)
	}
	return out, nil
}

// Close closes the connection.
func (s *ClickHouseSource) Close() error {
	return s.conn.Close()
}

func deref(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}
