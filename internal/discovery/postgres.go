package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresIntrospector reads schema metadata and sample values from a
// customer PostgreSQL database. It never writes.
type PostgresIntrospector struct {
	db *sql.DB
}

// NewPostgres opens a read-only introspection connection for the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*PostgresIntrospector, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping source database: %w", err)
	}
	return &PostgresIntrospector{db: db}, nil
}

func (p *PostgresIntrospector) Close() error {
	return p.db.Close()
}

const columnsQuery = `
SELECT c.column_name,
       c.data_type,
       c.udt_name,
       c.is_nullable = 'YES',
       c.character_maximum_length,
       EXISTS (
           SELECT 1
           FROM information_schema.table_constraints tc
           JOIN information_schema.key_column_usage kcu
             ON kcu.constraint_name = tc.constraint_name
            AND kcu.table_schema = tc.table_schema
           WHERE tc.constraint_type = 'PRIMARY KEY'
             AND tc.table_schema = c.table_schema
             AND tc.table_name = c.table_name
             AND kcu.column_name = c.column_name
       )
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

func (p *PostgresIntrospector) Columns(ctx context.Context, table TableRef) ([]Column, error) {
	rows, err := p.db.QueryContext(ctx, columnsQuery, table.Schema, table.Table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col    Column
			maxLen sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.DataType, &col.NativeType, &col.IsNullable, &maxLen, &col.IsPrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		if maxLen.Valid {
			n := int(maxLen.Int64)
			col.MaxLength = &n
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", table)
	}
	return cols, nil
}

const foreignKeysQuery = `
SELECT tc.constraint_name,
       tc.table_schema,
       tc.table_name,
       array_agg(kcu.column_name ORDER BY kcu.ordinal_position),
       ccu.table_schema,
       ccu.table_name,
       array_agg(ccu.column_name ORDER BY kcu.ordinal_position)
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name
 AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name
 AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = ANY($1)
GROUP BY tc.constraint_name, tc.table_schema, tc.table_name, ccu.table_schema, ccu.table_name`

func (p *PostgresIntrospector) ForeignKeys(ctx context.Context, schemas []string) ([]ForeignKey, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, foreignKeysQuery, arrayLiteral(schemas))
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			fk       ForeignKey
			from, to string
		)
		if err := rows.Scan(&fk.ConstraintName, &fk.FromSchema, &fk.FromTable, &from, &fk.ToSchema, &fk.ToTable, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fk.FromColumns = parseArrayLiteral(from)
		fk.ToColumns = parseArrayLiteral(to)
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// SampleValues fetches up to limit distinct values for every textual column
// of the table. Identifiers are quoted; values come back as strings.
func (p *PostgresIntrospector) SampleValues(ctx context.Context, table TableRef, limit int) (map[string][]string, error) {
	if limit <= 0 {
		limit = 5
	}
	cols, err := p.Columns(ctx, table)
	if err != nil {
		return nil, err
	}

	samples := make(map[string][]string)
	for _, col := range cols {
		if !col.SampleEligible() {
			continue
		}
		q := fmt.Sprintf(
			"SELECT DISTINCT %s FROM %s.%s WHERE %s IS NOT NULL LIMIT %d",
			quoteIdent(col.Name), quoteIdent(table.Schema), quoteIdent(table.Table), quoteIdent(col.Name), limit,
		)
		vals, err := p.queryStrings(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("sample %s.%s: %w", table, col.Name, err)
		}
		samples[col.Name] = vals
	}
	return samples, nil
}

func (p *PostgresIntrospector) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// arrayLiteral renders a text[] parameter for = ANY($1).
func arrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// parseArrayLiteral decodes a simple text[] literal like {a,b} as scanned
// from information_schema aggregates.
func parseArrayLiteral(s string) []string {
	s = strings.TrimPrefix(strings.TrimSuffix(s, "}"), "{")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `"`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
