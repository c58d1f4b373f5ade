package adapter

import "sync"

// KeyCache remembers the generated key column of each table written to by
// an INSERT. An empty key means the table has none. Adapters reset the cache
// whenever they run DDL.
type KeyCache struct {
	m sync.Map
}

// Resolve returns the cached key for table, calling lookup on a miss. Lookup
// errors are returned and not cached.
func (c *KeyCache) Resolve(table string, lookup func() (string, error)) (string, error) {
	if v, ok := c.m.Load(table); ok {
		return v.(string), nil
	}
	key, err := lookup()
	if err != nil {
		return "", err
	}
	c.m.Store(table, key)
	return key, nil
}

// Reset forgets every table.
func (c *KeyCache) Reset() {
	c.m.Clear()
}
