package interest

import (
	"encoding/json"
	"fmt"
	"os"
)

// Catalog is the ordered label catalog: index -> user id. It is loaded
// once at startup and passed by reference into the decoder; it never
// changes while the process runs.
type Catalog struct {
	users []string
}

// LoadCatalog reads a JSON array of user ids (the label encoder's class
// list, in training order).
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("label catalog: %w", err)
	}
	var users []string
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, fmt.Errorf("label catalog %s: %w", path, err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("label catalog %s: empty", path)
	}
	return &Catalog{users: users}, nil
}

// NewCatalog builds a catalog from an in-memory list (tests, direct config).
func NewCatalog(users []string) *Catalog {
	return &Catalog{users: append([]string(nil), users...)}
}

func (c *Catalog) Len() int { return len(c.users) }

// Lookup resolves a label index to a user id.
func (c *Catalog) Lookup(idx int) (string, bool) {
	if c == nil || idx < 0 || idx >= len(c.users) {
		return "", false
	}
	return c.users[idx], true
}
