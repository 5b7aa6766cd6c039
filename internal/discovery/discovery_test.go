package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTableRef(t *testing.T) {
	ref, err := ParseTableRef("sales.orders")
	require.NoError(t, err)
	require.Equal(t, TableRef{Schema: "sales", Table: "orders"}, ref)
	require.Equal(t, "sales.orders", ref.String())

	// only the first dot splits
	ref, err = ParseTableRef("public.user.accounts")
	require.NoError(t, err)
	require.Equal(t, "public", ref.Schema)
	require.Equal(t, "user.accounts", ref.Table)

	for _, bad := range []string{"", "orders", ".orders", "sales.", "."} {
		_, err := ParseTableRef(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestColumnSampleEligible(t *testing.T) {
	short, wide := 30, 200
	cases := []struct {
		col  Column
		want bool
	}{
		{Column{Name: "status", DataType: "varchar", MaxLength: &short}, true},
		{Column{Name: "status", DataType: "VARCHAR", MaxLength: &short}, true},
		{Column{Name: "status", DataType: "character varying", MaxLength: &short}, true},
		{Column{Name: "status", DataType: "varchar", MaxLength: &wide}, false},
		{Column{Name: "status", DataType: "varchar"}, false},
		{Column{Name: "notes", DataType: "text", MaxLength: &short}, false},
		{Column{Name: "total", DataType: "integer"}, false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.col.SampleEligible(), "%s %s", c.col.Name, c.col.DataType)
	}
}

func TestParseArrayLiteral(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, parseArrayLiteral("{a,b}"))
	require.Equal(t, []string{"customer_id"}, parseArrayLiteral(`{"customer_id"}`))
	require.Nil(t, parseArrayLiteral("{}"))
}

func TestArrayLiteral(t *testing.T) {
	require.Equal(t, `{"sales","ops"}`, arrayLiteral([]string{"sales", "ops"}))
}

// countingIntrospector tracks how often each method reaches the source.
type countingIntrospector struct {
	columns int
	fks     int
	samples int
}

func (c *countingIntrospector) Columns(ctx context.Context, table TableRef) ([]Column, error) {
	c.columns++
	return []Column{{Name: "id", DataType: "integer"}}, nil
}

func (c *countingIntrospector) ForeignKeys(ctx context.Context, schemas []string) ([]ForeignKey, error) {
	c.fks++
	return []ForeignKey{{ConstraintName: "fk1"}}, nil
}

func (c *countingIntrospector) SampleValues(ctx context.Context, table TableRef, limit int) (map[string][]string, error) {
	c.samples++
	return map[string][]string{"status": {"open"}}, nil
}

func TestCachedIntrospector(t *testing.T) {
	inner := &countingIntrospector{}
	cached, err := NewCached(inner, 16)
	require.NoError(t, err)
	ctx := context.Background()
	ref := TableRef{Schema: "sales", Table: "orders"}

	for i := 0; i < 3; i++ {
		cols, err := cached.Columns(ctx, ref)
		require.NoError(t, err)
		require.Len(t, cols, 1)
	}
	require.Equal(t, 1, inner.columns)

	// a different table misses
	_, err = cached.Columns(ctx, TableRef{Schema: "sales", Table: "customers"})
	require.NoError(t, err)
	require.Equal(t, 2, inner.columns)

	for i := 0; i < 2; i++ {
		_, err := cached.ForeignKeys(ctx, []string{"sales", "ops"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, inner.fks)

	for i := 0; i < 2; i++ {
		_, err := cached.SampleValues(ctx, ref, 5)
		require.NoError(t, err)
	}
	require.Equal(t, 1, inner.samples)

	// a different limit is a different cache entry
	_, err = cached.SampleValues(ctx, ref, 10)
	require.NoError(t, err)
	require.Equal(t, 2, inner.samples)
}
