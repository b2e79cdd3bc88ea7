package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IncidentType is the category label attached to a report. Incident types are
// open-ended: publishers may send labels this package has never heard of.
type IncidentType string

// Well-known incident categories.
const (
	IncidentTheft          IncidentType = "theft"
	IncidentViolence       IncidentType = "violence"
	IncidentVandalism      IncidentType = "vandalism"
	IncidentSuspicious     IncidentType = "suspicious"
	IncidentAccident       IncidentType = "accident"
	IncidentWeaponSighting IncidentType = "weapon_sighting"
	IncidentKnife          IncidentType = "knife"
	IncidentGun            IncidentType = "gun"
	IncidentOther          IncidentType = "other"
)

var knownIncidentTypes = map[IncidentType]struct{}{
	IncidentTheft:          {},
	IncidentViolence:       {},
	IncidentVandalism:      {},
	IncidentSuspicious:     {},
	IncidentAccident:       {},
	IncidentWeaponSighting: {},
	IncidentKnife:          {},
	IncidentGun:            {},
	IncidentOther:          {},
}

// String returns the raw label.
func (t IncidentType) String() string {
	return string(t)
}

// Category folds the raw label into one of the well-known buckets. Labels that
// do not match a known category, including the empty label, fall into
// IncidentOther.
func (t IncidentType) Category() IncidentType {
	key := IncidentType(normalizeLabel(string(t)))
	if _, ok := knownIncidentTypes[key]; ok {
		return key
	}
	return IncidentOther
}

// IsKnown reports whether the label maps onto a well-known category other
// than the catch-all bucket.
func (t IncidentType) IsKnown() bool {
	return t.Category() != IncidentOther
}

// normalizeLabel strips diacritics, folds case, trims, and joins words with
// underscores, so "Weapon Sighting", "weapon-sighting" and "WEAPON_SIGHTING"
// all compare equal.
func normalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(strings.TrimSpace(stripped))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}
