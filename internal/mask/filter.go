package mask

// Filters reject masks that are too large or too elongated to be a hold.
type Filters struct {
	// MaxAreaRatio rejects any mask covering more of the grid than this.
	MaxAreaRatio float64
	// Masks above MinAreaRatio must also stay within MaxAspectRatio.
	MinAreaRatio   float64
	MaxAspectRatio float64
}

// DefaultFilters returns the tuned acceptance thresholds.
func DefaultFilters() Filters {
	return Filters{MaxAreaRatio: 0.03, MinAreaRatio: 0.01, MaxAspectRatio: 2.0}
}

// Accept applies the filters to a mask of maskArea set cells out of
// gridCells, whose minimum-area rectangle is w×h.
func (f Filters) Accept(maskArea, gridCells int, w, h float64) bool {
	if w == 0 || h == 0 {
		return false
	}
	ratio := float64(maskArea) / float64(gridCells)
	if ratio > f.MaxAreaRatio {
		return false
	}
	if ratio > f.MinAreaRatio && aspect(w, h) > f.MaxAspectRatio {
		return false
	}
	return true
}

func aspect(w, h float64) float64 {
	return max(w/h, h/w)
}
