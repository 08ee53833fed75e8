// Package msgjson stores typed values in a JSON database column.
package msgjson

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Column wraps an optional T stored as a JSON document. A nil V is stored as
// SQL NULL.
type Column[T any] struct {
	V *T
}

func Of[T any](v *T) Column[T] { return Column[T]{V: v} }

// Value implements driver.Valuer.
func (c Column[T]) Value() (driver.Value, error) {
	if c.V == nil {
		return nil, nil
	}
	b, err := json.Marshal(c.V)
	if err != nil {
		return nil, fmt.Errorf("msgjson.Column: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *Column[T]) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		c.V = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("msgjson.Column: unsupported scan type %T", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		c.V = nil
		return nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("msgjson.Column: invalid JSON payload: %w", err)
	}
	c.V = &out
	return nil
}

// GormDataType lets gorm migrate the column as text on every dialect.
func (Column[T]) GormDataType() string { return "text" }
