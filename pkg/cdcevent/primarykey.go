package cdcevent

// NewPrimaryKey coerces a sequence of decoded column values (in the order
// resolved by relcache) into a PrimaryKey. Per §3, only int64 and string
// scalars are acceptable; any other shape (float, bool, byte arrays, nil,
// an unresolved toast marker) causes the whole key to
// be rejected, mirroring "events whose PK cannot be resolved to only
// integers/strings are dropped".
func NewPrimaryKey(values []any) (PrimaryKey, bool) {
	if len(values) == 0 {
		return nil, false
	}
	pk := make(PrimaryKey, len(values))
	for i, v := range values {
		scalar, ok := coerceScalar(v)
		if !ok {
			return nil, false
		}
		pk[i] = scalar
	}
	return pk, true
}

func coerceScalar(v any) (any, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	case string:
		return n, true
	default:
		return nil, false
	}
}
