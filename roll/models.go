// Package roll models physical film rolls held in stock.
package roll

import (
	"strings"
	"time"

	"github.com/xraph/stockledger/id"
	"github.com/xraph/stockledger/types"
)

// FilmRoll is one physical inventory unit.
//
// CurrentWeight equals NetWeight for as long as the roll exists; whole-roll
// consumption deletes the roll rather than drawing it down.
type FilmRoll struct {
	types.Entity
	ID            id.RollID    `json:"id"`
	FilmType      string       `json:"film_type" validate:"required"`
	NetWeight     types.Weight `json:"net_weight"`
	CurrentWeight types.Weight `json:"current_weight"`
	Supplier      string       `json:"supplier"`
	PurchaseDate  time.Time    `json:"purchase_date"`
}

// InStock reports whether the roll counts as available stock.
func (r *FilmRoll) InStock() bool {
	return r.CurrentWeight.IsPositive()
}

// Matches reports whether the roll is of the given film type.
// Film types are category keys and compare by FilmTypeKey.
func (r *FilmRoll) Matches(filmType string) bool {
	return FilmTypeKey(r.FilmType) == FilmTypeKey(filmType)
}

// FilmTypeKey folds a film type to the key it is grouped and filtered by.
func FilmTypeKey(filmType string) string {
	return strings.ToLower(filmType)
}

// Clone returns a copy that shares no mutable state with r.
func (r *FilmRoll) Clone() *FilmRoll {
	c := *r
	return &c
}
