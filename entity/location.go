package entity

import (
	"strings"

	"github.com/biter777/countries"
)

// Location is a country → region → city triple; region and city are optional.
// For orders it is the target geography, for executors the resolved residence.
type Location struct {
	Country string `json:"country" bson:"country"`
	Region  string `json:"region,omitempty" bson:"region,omitempty"`
	City    string `json:"city,omitempty" bson:"city,omitempty"`
}

// CountryCode returns ISO 3166-1 alpha-2 code of the country, accepting
// either a code or a country name; empty string if the country is unknown.
func (l Location) CountryCode() string {
	c := strings.TrimSpace(l.Country)
	if c == "" {
		return ""
	}
	if len(c) == 2 {
		code := countries.ByName(strings.ToUpper(c))
		if code == countries.Unknown {
			return ""
		}
		return code.Alpha2()
	}
	code := countries.ByName(c).Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}

// Normalized returns a copy with the country replaced by its alpha-2 code
// (left as is when unknown) and surrounding whitespace trimmed.
func (l Location) Normalized() Location {
	n := Location{
		Country: strings.TrimSpace(l.Country),
		Region:  strings.TrimSpace(l.Region),
		City:    strings.TrimSpace(l.City),
	}
	if code := l.CountryCode(); code != "" {
		n.Country = code
	}
	return n
}

func (l Location) HasRegion() bool {
	return strings.TrimSpace(l.Region) != ""
}

func (l Location) HasCity() bool {
	return strings.TrimSpace(l.City) != ""
}
