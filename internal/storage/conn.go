package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/wegman-software/osmgeodb/internal/logger"
)

// PgConn is a single PostgreSQL connection implementing Conn
type PgConn struct {
	conn *pgx.Conn
}

// Connect opens a connection
func Connect(ctx context.Context, connString string) (*PgConn, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return &PgConn{conn: conn}, nil
}

// Begin starts a transaction
func (c *PgConn) Begin(ctx context.Context) (Tx, error) {
	return c.conn.Begin(ctx)
}

// Close closes the connection
func (c *PgConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// RegisterTypes registers codecs for hstore and geometry so tags can be sent
// as pgtype.Hstore and EWKB as raw bytes. The extensions must exist.
func (c *PgConn) RegisterTypes(ctx context.Context) error {
	for _, t := range []struct {
		name  string
		codec pgtype.Codec
	}{
		{"hstore", pgtype.HstoreCodec{}},
		{"geometry", pgtype.ByteaCodec{}},
	} {
		var oid uint32
		err := c.conn.QueryRow(ctx, "SELECT oid FROM pg_type WHERE typname = $1", t.name).Scan(&oid)
		if err != nil {
			return fmt.Errorf("failed to get %s OID: %w", t.name, err)
		}
		c.conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  t.name,
			OID:   oid,
			Codec: t.codec,
		})
	}
	return nil
}

// PrepareTables creates the extensions and the unlogged destination tables
// if missing and empties them
func (c *PgConn) PrepareTables(ctx context.Context, schema, pointTable, lineTable string, srid int) error {
	log := logger.Get()

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		"CREATE EXTENSION IF NOT EXISTS hstore",
	}
	if schema != "" && schema != "public" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()))
	}

	point := qualified(schema, pointTable)
	line := qualified(schema, lineTable)
	stmts = append(stmts,
		fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			location GEOMETRY(Point, %d),
			tags hstore,
			PRIMARY KEY (id) DEFERRABLE INITIALLY DEFERRED
		)`, point, srid),
		fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL,
			refs BIGINT[],
			tags hstore,
			PRIMARY KEY (id) DEFERRABLE INITIALLY DEFERRED
		)`, line),
		fmt.Sprintf("TRUNCATE %s, %s", point, line),
	)

	for _, sql := range stmts {
		if _, err := c.conn.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to prepare tables: %w", err)
		}
	}
	log.Info("Tables prepared", zap.String("points", point), zap.String("lines", line))
	return nil
}

func qualified(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}
