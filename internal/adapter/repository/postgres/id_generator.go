package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/iho/tripledger/internal/usecase"
)

// ID strategies accepted by NewIDGenerator.
const (
	IDStrategyULID = "ulid"
	IDStrategyUUID = "uuid"
)

// ULIDGenerator generates ULID-based IDs. ULIDs sort by creation time.
type ULIDGenerator struct{}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate generates a new ULID.
func (g *ULIDGenerator) Generate() string {
	return ulid.Make().String()
}

// UUIDGenerator generates time-ordered UUIDv7 IDs.
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new UUIDGenerator.
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Generate generates a new UUIDv7, falling back to v4 if the clock source fails.
func (g *UUIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewIDGenerator returns the generator for a configured strategy.
func NewIDGenerator(strategy string) (usecase.IDGenerator, error) {
	switch strategy {
	case "", IDStrategyULID:
		return NewULIDGenerator(), nil
	case IDStrategyUUID:
		return NewUUIDGenerator(), nil
	}
	return nil, fmt.Errorf("unknown id strategy %q", strategy)
}
