package model

import (
	"strconv"
	"strings"
	"time"
)

// Location is the deduplicated geo dimension. LookupKey carries the
// identifying (country_code, city) pair and is unique.
type Location struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	CountryCode string    `gorm:"size:2;not null;index"`
	CountryName string    `gorm:"size:100;not null"`
	City        *string   `gorm:"size:100"`
	LookupKey   string    `gorm:"size:512;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (Location) TableName() string { return "locations" }

// absentField marks a missing optional field inside a lookup key. Present
// values are always quoted, so no real value can encode to it.
const absentField = "-"

// LocationKey builds the lookup key for a (countryCode, city) pair. A nil
// city and an empty city yield different keys.
func LocationKey(countryCode string, city *string) string {
	return strings.ToUpper(countryCode) + "|" + keyField(city)
}

func keyField(v *string) string {
	if v == nil {
		return absentField
	}
	return strconv.Quote(*v)
}
