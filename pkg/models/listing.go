package models

import "strings"

// Canonical column names. Source partitions use their own labels and are
// mapped onto these through SourceDescriptor.FieldMap.
const (
	ColTitle       = "title"
	ColDescription = "description"
	ColDonateURL   = "donateUrl"
	ColState       = "state"
	ColCity        = "city"
	ColLogo        = "logo"
	ColSource      = "source"
	ColHide        = "hide"
)

// CanonicalColumns is the header written when a region partition is created.
var CanonicalColumns = []string{
	ColTitle,
	ColDescription,
	ColDonateURL,
	ColState,
	ColCity,
	ColLogo,
	ColSource,
	ColHide,
}

// CandidateFields are the fields a source may map.
var CandidateFields = []string{
	ColTitle,
	ColDescription,
	ColDonateURL,
	ColState,
	ColCity,
	ColLogo,
}

// Logo sentinels.
const (
	LogoTwitter = "twitter" // operator override: use the social-profile path
	LogoNone    = "(none)"  // attempted, nothing usable found
)

// CandidateRecord is one normalized row extracted from a source partition.
type CandidateRecord struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DonateURL   string `json:"donateUrl"`
	State       string `json:"state,omitempty"`
	City        string `json:"city,omitempty"`
	Logo        string `json:"logo,omitempty"`
}

// Values returns the record keyed by canonical column name.
func (c CandidateRecord) Values() map[string]string {
	return map[string]string{
		ColTitle:       c.Title,
		ColDescription: c.Description,
		ColDonateURL:   c.DonateURL,
		ColState:       c.State,
		ColCity:        c.City,
		ColLogo:        c.Logo,
	}
}

// CanonicalRecord is a row of a region's canonical partition.
type CanonicalRecord struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DonateURL   string `json:"donateUrl"`
	State       string `json:"state,omitempty"`
	City        string `json:"city,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Source      string `json:"source,omitempty"`
	Hide        bool   `json:"hide,omitempty"`
}

// CanonicalFromValues builds a record from header-keyed cell values.
func CanonicalFromValues(v map[string]string) CanonicalRecord {
	return CanonicalRecord{
		Title:       v[ColTitle],
		Description: v[ColDescription],
		DonateURL:   v[ColDonateURL],
		State:       v[ColState],
		City:        v[ColCity],
		Logo:        v[ColLogo],
		Source:      v[ColSource],
		Hide:        IsTruthy(v[ColHide]),
	}
}

// NeedsLogo reports whether a logo value is eligible for enrichment.
func NeedsLogo(logo string) bool {
	logo = strings.TrimSpace(logo)
	return logo == "" || IsTwitterOverride(logo)
}

// IsTwitterOverride reports whether an operator asked for the social-profile path.
func IsTwitterOverride(logo string) bool {
	return strings.EqualFold(strings.TrimSpace(logo), LogoTwitter)
}

// IsTruthy interprets operator-entered flag cells such as hide.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "x":
		return true
	default:
		return false
	}
}
