package models

import "fmt"

// Package represents a purchasable access package
type Package struct {
	BaseModel

	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	// DurationMinutes is the granted access time, must be > 0
	DurationMinutes int `json:"durationMinutes" db:"duration_minutes"`

	// Price in minor currency units (e.g. cents), must be > 0
	Price int64 `json:"price" db:"price"`

	IsActive bool `json:"isActive" db:"is_active"`
}

// DurationText formats the package duration for portal display
func (p *Package) DurationText() string {
	switch {
	case p.DurationMinutes < 60:
		return plural(p.DurationMinutes, "minute")
	case p.DurationMinutes < 1440:
		return plural(p.DurationMinutes/60, "hour")
	default:
		return plural(p.DurationMinutes/1440, "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
