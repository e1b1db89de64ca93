package cache

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonColumn stores a slice as a JSON TEXT column. Empty slices are NULL.
type jsonColumn[T any] struct {
	Data []T
}

func (c jsonColumn[T]) Value() (driver.Value, error) {
	if len(c.Data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(c.Data)
	if err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return string(b), nil
}

func (c *jsonColumn[T]) Scan(value any) error {
	c.Data = nil
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into a JSON column", value)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &c.Data)
}
