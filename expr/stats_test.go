package expr

import (
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func int64Stats(min, max int64, nulls, num int64) ColumnStats {
	return ColumnStats{
		Min:       parquet.ValueOf(min),
		Max:       parquet.ValueOf(max),
		HasMinMax: true,
		NullCount: nulls,
		NumValues: num,
	}
}

func TestStatsMaybeTrue(t *testing.T) {
	stats := int64Stats(10, 20, 0, 100)

	tests := []struct {
		name  string
		e     Expr
		stats ColumnStats
		want  bool
	}{
		{name: "eq inside range", e: Col("v").Eq(Literal(int64(15))), stats: stats, want: true},
		{name: "eq below range", e: Col("v").Eq(Literal(int64(5))), stats: stats, want: false},
		{name: "eq above range", e: Col("v").Eq(Literal(int64(25))), stats: stats, want: false},
		{name: "eq lower bound", e: Col("v").Eq(Literal(int64(10))), stats: stats, want: true},
		{name: "eq upper bound", e: Col("v").Eq(Literal(int64(20))), stats: stats, want: true},

		{name: "lt of min", e: Col("v").Lt(Literal(int64(10))), stats: stats, want: false},
		{name: "lt just above min", e: Col("v").Lt(Literal(int64(11))), stats: stats, want: true},
		{name: "lteq of min", e: Col("v").LtEq(Literal(int64(10))), stats: stats, want: true},
		{name: "gt of max", e: Col("v").Gt(Literal(int64(20))), stats: stats, want: false},
		{name: "gt just below max", e: Col("v").Gt(Literal(int64(19))), stats: stats, want: true},
		{name: "gteq of max", e: Col("v").GtEq(Literal(int64(20))), stats: stats, want: true},
		{name: "gteq above max", e: Col("v").GtEq(Literal(int64(21))), stats: stats, want: false},

		{
			name:  "noteq on wide range",
			e:     Col("v").NotEq(Literal(int64(15))),
			stats: stats,
			want:  true,
		},
		{
			name:  "noteq on constant range",
			e:     Col("v").NotEq(Literal(int64(10))),
			stats: int64Stats(10, 10, 0, 100),
			want:  false,
		},
		{
			name:  "noteq on constant range with nulls",
			e:     Col("v").NotEq(Literal(int64(10))),
			stats: int64Stats(10, 10, 5, 100),
			want:  true,
		},

		{
			name:  "eq null needs null rows",
			e:     Col("v").Eq(Literal(nil)),
			stats: int64Stats(10, 20, 0, 100),
			want:  false,
		},
		{
			name:  "eq null with null rows",
			e:     Col("v").Eq(Literal(nil)),
			stats: int64Stats(10, 20, 1, 100),
			want:  true,
		},
		{
			name:  "lt null stays conservative",
			e:     Col("v").Lt(Literal(nil)),
			stats: stats,
			want:  true,
		},

		{
			name:  "all null range never matches eq",
			e:     Col("v").Eq(Literal(int64(15))),
			stats: ColumnStats{NullCount: 100, NumValues: 100},
			want:  false,
		},
		{
			name:  "all null range may match noteq",
			e:     Col("v").NotEq(Literal(int64(15))),
			stats: ColumnStats{NullCount: 100, NumValues: 100},
			want:  true,
		},

		{
			name:  "absent stats keep the range",
			e:     Col("v").Eq(Literal(int64(5))),
			stats: ColumnStats{NumValues: 100},
			want:  true,
		},

		{
			name:  "membership with one hit",
			e:     Col("v").In(int64(5), int64(15)),
			stats: stats,
			want:  true,
		},
		{
			name:  "membership with no hits",
			e:     Col("v").In(int64(5), int64(25)),
			stats: stats,
			want:  false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StatsMaybeTrue(tc.e, tc.stats))
		})
	}
}

func TestStatsMaybeTrueStrings(t *testing.T) {
	stats := ColumnStats{
		Min:       parquet.ValueOf("bananas"),
		Max:       parquet.ValueOf("oranges"),
		HasMinMax: true,
		NumValues: 10,
	}
	require.True(t, StatsMaybeTrue(Col("fruit").Eq(Literal("kiwi")), stats))
	require.False(t, StatsMaybeTrue(Col("fruit").Eq(Literal("apples")), stats))
	require.False(t, StatsMaybeTrue(Col("fruit").Gt(Literal("oranges")), stats))
	require.True(t, StatsMaybeTrue(Col("fruit").GtEq(Literal("oranges")), stats))
}
