package domain

import "time"

// PricePoint is one trading day of the base asset, quoted in quote units.
type PricePoint struct {
	Date       time.Time `json:"date"`
	OpenPrice  float64   `json:"open_price"`
	ClosePrice float64   `json:"close_price"`
}

// ChangePct is the open-to-close move in percent (0 when open is not positive).
func (p PricePoint) ChangePct() float64 {
	if p.OpenPrice <= 0 {
		return 0
	}
	return (p.ClosePrice - p.OpenPrice) / p.OpenPrice * 100
}

// DateWindow is a named inclusive date range, e.g. a historical crash.
type DateWindow struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether the calendar day (UTC) of t lies in the window,
// both ends inclusive.
func (w DateWindow) Contains(t time.Time) bool {
	d := t.UTC().Truncate(24 * time.Hour)
	return !d.Before(w.Start) && !d.After(w.End)
}

// Slice returns the points of series that fall inside the window, preserving order.
func (w DateWindow) Slice(series []PricePoint) []PricePoint {
	var out []PricePoint
	for _, p := range series {
		if w.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out
}
