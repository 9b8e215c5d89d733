package exchange

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// IDGenerator mints client order ids: prefix + base62(uuid v4). The result
// stays within Binance's 36 character limit for short prefixes.
type IDGenerator struct {
	prefix string
}

func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	id := uuid.New()
	return g.prefix + base62.EncodeToString(id[:])
}
