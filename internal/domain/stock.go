package domain

import "time"

// Stock is a tracked instrument. Inactive stocks are excluded from
// all-stocks dataset resolution but keep their history.
type Stock struct {
	ID        int64
	Symbol    string
	Name      string
	Exchange  string
	Sector    string
	Active    bool
	CreatedAt time.Time
}
