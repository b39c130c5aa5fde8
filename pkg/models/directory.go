package models

import "time"

// SourceRef is a (region, source id) pair present in the canonical store.
type SourceRef struct {
	Region string `json:"region"`
	URL    string `json:"url"`
}

// Directory is the aggregated response served to readers.
type Directory struct {
	Data    map[string][]CanonicalRecord `json:"data"`
	Sources []SourceRef                  `json:"sources"`
	BuiltAt time.Time                    `json:"builtAt"`
}
