// Package record implements the two block predicates the refresh
// pipeline runs over a parsed GeoDB: one keyed on ISO country code,
// one keyed on autonomous system number. Both compile a configured set
// into a predicate shaped for compactor.Compact.
package record

import (
	"github.com/ishanjain28/geofw/internal/geodb/decoder"
)

// CountryPredicate blocks any record whose record["country"]["iso_code"]
// is a member of sourceCountries. Records missing either field, or
// shaped unexpectedly, are never blocked — compaction fails open on
// malformed or partial records rather than over-blocking.
func CountryPredicate(sourceCountries map[string]struct{}) func(decoder.Value) (bool, error) {
	return func(v decoder.Value) (bool, error) {
		m, ok := v.Map()
		if !ok {
			return false, nil
		}
		countryMap, ok := m["country"].Map()
		if !ok {
			return false, nil
		}
		iso, ok := countryMap["iso_code"].String()
		if !ok {
			return false, nil
		}
		_, blocked := sourceCountries[iso]
		return blocked, nil
	}
}

// ASNPredicate blocks any record whose record["autonomous_system_number"]
// is a member of sourceASN.
func ASNPredicate(sourceASN map[uint32]struct{}) func(decoder.Value) (bool, error) {
	return func(v decoder.Value) (bool, error) {
		m, ok := v.Map()
		if !ok {
			return false, nil
		}
		asn, ok := m["autonomous_system_number"].Uint32()
		if !ok {
			return false, nil
		}
		_, blocked := sourceASN[asn]
		return blocked, nil
	}
}
