package stockledger

import (
	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/types"
)

// Re-export common types for convenience so users don't have to import
// the types and id packages.

// ID is the primary identifier type for all ledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Weight is re-exported from types package.
type Weight = types.Weight

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Weight constructors
var (
	Kg          = types.Kg
	KgInt       = types.KgInt
	ParseWeight = types.ParseWeight
	SumWeights  = types.SumWeights
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
