package id

import (
	"strings"

	"github.com/google/uuid"
)

type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// NewToken returns a short gateway-style token such as "tbk_1a2b3c4d",
// matching the format the payment provider uses.
func (g *UUIDGenerator) NewToken() string {
	return "tbk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
