package model

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/yanun0323/errors"
)

// JSONMap stores arbitrary key/value metadata as a JSON column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal json map")
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("scan json map: unsupported type %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, m), "unmarshal json map")
}
