package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sageql/sageql/engine/domain"
)

// Querier is the subset of pgxpool.Pool the catalog needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresCatalog introspects a PostgreSQL database via information_schema.
type PostgresCatalog struct {
	db Querier
}

// NewPostgresCatalog creates a catalog over the given connection pool.
func NewPostgresCatalog(db Querier) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// ListTables returns the base table names in the schema.
func (c *PostgresCatalog) ListTables(ctx context.Context, schemaName string) ([]string, error) {
	rows, err := c.db.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schema: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: list tables: %w", err)
	}
	return tables, nil
}

// ListColumns returns the columns of a table in ordinal order.
func (c *PostgresCatalog) ListColumns(ctx context.Context, table, schemaName string) ([]domain.Column, error) {
	rows, err := c.db.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("schema: list columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("schema: scan column of %s: %w", table, err)
		}
		cols = append(cols, domain.Column{
			Table:    table,
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: list columns for %s: %w", table, err)
	}
	return cols, nil
}

// ListForeignKeys returns every foreign-key edge in the schema.
func (c *PostgresCatalog) ListForeignKeys(ctx context.Context, schemaName string) ([]domain.ForeignKey, error) {
	rows, err := c.db.Query(ctx, `
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS ref_table,
			ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: list foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []domain.ForeignKey
	for rows.Next() {
		var fk domain.ForeignKey
		if err := rows.Scan(&fk.Table, &fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("schema: scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: list foreign keys: %w", err)
	}
	return fks, nil
}
