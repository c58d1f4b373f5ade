package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pthm/shelfdb/pkg/adapter"
)

func normalizeRow(m map[string]any) adapter.Row {
	row := make(adapter.Row, len(m))
	for k, v := range m {
		row[k] = normalizeValue(v)
	}
	return row
}

// normalizeValue converts pgx-specific values before the shared
// normalization. Integral numerics become int64 so aggregates such as
// SUM(bigint) match the embedded engine.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		return numericValue(x)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	}
	return adapter.NormalizeValue(v)
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	if !n.NaN && n.InfinityModifier == pgtype.Finite && n.Exp >= 0 {
		if i, err := n.Int64Value(); err == nil && i.Valid {
			return i.Int64
		}
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return nil
	}
	return f.Float64
}
