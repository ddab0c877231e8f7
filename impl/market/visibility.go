package market

import (
	"strings"
	"taskmarket/entity"
)

// Visible reports whether an order with the given target geography is shown
// to an executor at loc. Exactly one tier applies to a target, picked by how
// specific the target is: city, else region, else the whole country.
func Visible(target, loc entity.Location) bool {
	t := target.Normalized()
	l := loc.Normalized()
	switch {
	case t.HasCity():
		return sameName(t.City, l.City)
	case t.HasRegion():
		return sameName(t.Region, l.Region)
	default:
		return sameName(t.Country, l.Country)
	}
}

func sameName(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
