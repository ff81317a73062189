package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"go.uber.org/zap"
)

// rawJSONB scans a driver value that may arrive as []byte, string, or already
// be nil, and unmarshals it into dst. Corrupt JSON and unexpected driver
// types are logged and treated as "no value" rather than propagated as
// errors -- execution history reads must never fail because one old row has
// a malformed column.
func rawJSONB(value interface{}, field string, dst interface{}) error {
	if value == nil {
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		logger.Warn("unexpected jsonb driver type", zap.String("field", field), zap.String("type", fmt.Sprintf("%T", value)))
		return nil
	}

	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Warn("corrupt jsonb column, defaulting", zap.String("field", field), zap.Error(err))
		return nil
	}
	return nil
}

// jsonbValue canonicalizes a Go value to JSON bytes for storage. Maps are
// marshaled with sorted keys by encoding/json already; nothing extra is
// needed, but nil slices/maps are written as `[]`/`{}` rather than `null` so
// downstream readers never have to special-case null JSONB.
func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
