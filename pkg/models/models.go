// Package models defines the persisted entities shared by the store, queue,
// and processors. All structs carry sqlx `db` tags matching the migration
// schema in pkg/database/migrations.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap maps a JSONB column to a Go map. A nil map stores SQL NULL.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}

// GetString returns the string value for key, or "" when absent or not a string.
func (m JSONMap) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the bool value for key, or false when absent or not a bool.
func (m JSONMap) GetBool(key string) bool {
	v, _ := m[key].(bool)
	return v
}
