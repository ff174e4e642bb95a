package roll

// ListOpts filters roll listings.
type ListOpts struct {
	// FilmType matches by FilmTypeKey when set.
	FilmType string
	// InStockOnly drops rolls whose current weight is not positive.
	InStockOnly bool
	Limit       int
	Offset      int
}

// Keep reports whether r passes the filter part of opts.
func (o ListOpts) Keep(r *FilmRoll) bool {
	if o.FilmType != "" && !r.Matches(o.FilmType) {
		return false
	}
	if o.InStockOnly && !r.InStock() {
		return false
	}
	return true
}
