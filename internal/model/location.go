package model

import "time"

// Location caches one geocoded place name.
//
// Rows are immutable after creation except for FacebookPlaceID, which may be
// attached once, and UpdatedAt. Several rows may share a Name; lookups take
// the first match.
type Location struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Lat             float64   `json:"lat"`
	Long            float64   `json:"long"`
	FacebookPlaceID *string   `json:"facebookPlaceId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Place returns the value copy stored on an Identity.
func (l *Location) Place() *Place {
	return &Place{Name: l.Name, Lat: l.Lat, Long: l.Long}
}
