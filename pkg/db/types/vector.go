package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Vector stores a fixed-length embedding as a JSON array column.
type Vector []float32

func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}

	switch raw := src.(type) {
	case string:
		return v.parseFromBytes([]byte(raw))
	case []byte:
		return v.parseFromBytes(raw)
	default:
		return fmt.Errorf("Vector: unsupported Scan type %T", src)
	}
}

// GormDataType names the column type; float32 slices have no native gorm
// mapping.
func (Vector) GormDataType() string {
	return "jsonb"
}

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("Vector: marshal: %w", err)
	}
	return string(encoded), nil
}

func (v *Vector) parseFromBytes(raw []byte) error {
	if len(raw) == 0 {
		*v = nil
		return nil
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("Vector: unmarshal: %w", err)
	}
	*v = Vector(out)
	return nil
}
