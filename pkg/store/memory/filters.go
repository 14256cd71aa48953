package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian-core/pkg/apperrors"
	"github.com/meridianhq/meridian-core/pkg/query"
)

// evalFilter applies one secondary filter to a decoded document. Documents
// come from encoding/json, so values are string/float64/bool; filter values
// were already type-checked by the query builder.
func evalFilter(doc map[string]any, f query.Filter) (bool, error) {
	raw, present := doc[f.Field]
	if !present || raw == nil {
		return false, nil
	}

	switch f.Op {
	case query.OpContains:
		s, ok := raw.(string)
		if !ok {
			return false, nil
		}
		needle := f.Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(needle)), nil
	case query.OpEq, query.OpNeq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		cmp, comparable, err := compare(raw, f.Value)
		if err != nil {
			return false, err
		}
		if !comparable {
			return false, nil
		}
		switch f.Op {
		case query.OpEq:
			return cmp == 0, nil
		case query.OpNeq:
			return cmp != 0, nil
		case query.OpGt:
			return cmp > 0, nil
		case query.OpGte:
			return cmp >= 0, nil
		case query.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("filter operator %q: %w", f.Op, apperrors.ErrInvalidIdentity)
	}
}

// compare returns -1/0/1 for stored vs wanted, with comparable=false when
// the stored value's type does not line up with the filter value's.
func compare(stored, wanted any) (int, bool, error) {
	switch w := wanted.(type) {
	case string:
		s, ok := stored.(string)
		if !ok {
			return 0, false, nil
		}
		return strings.Compare(s, w), true, nil
	case bool:
		b, ok := stored.(bool)
		if !ok {
			return 0, false, nil
		}
		if b == w {
			return 0, true, nil
		}
		return 1, true, nil
	case time.Time:
		s, ok := stored.(string)
		if !ok {
			return 0, false, nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false, nil
		}
		switch {
		case t.Equal(w):
			return 0, true, nil
		case t.Before(w):
			return -1, true, nil
		default:
			return 1, true, nil
		}
	case int, int32, int64, float32, float64:
		n, ok := stored.(float64)
		if !ok {
			return 0, false, nil
		}
		want := toFloat(w)
		switch {
		case n == want:
			return 0, true, nil
		case n < want:
			return -1, true, nil
		default:
			return 1, true, nil
		}
	default:
		return 0, false, fmt.Errorf("filter value type %T: %w", wanted, apperrors.ErrInvalidIdentity)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
