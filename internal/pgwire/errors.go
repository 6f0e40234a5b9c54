package pgwire

import "github.com/lattice-db/lattice/internal/engine"

// sqlState maps the engine's error Kind taxonomy to a PostgreSQL SQLSTATE
// code, mirroring the five-character code table lib/pq documents from the
// client side.
func sqlState(k engine.Kind) string {
	switch k {
	case engine.KindParseError:
		return "42601"
	case engine.KindDenied:
		return "42501"
	case engine.KindNotFound:
		return "42P01"
	case engine.KindTypeMismatch:
		return "42883"
	case engine.KindConflict:
		return "40001"
	case engine.KindTimeout, engine.KindCanceled:
		return "57014"
	default:
		return "XX000"
	}
}
