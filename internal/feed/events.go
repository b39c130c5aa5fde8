// Package feed broadcasts reconciliation progress to TCP and WebSocket
// subscribers as newline-delimited JSON.
package feed

import "time"

const (
	TypeRunStarted      = "reconcile.started"
	TypeRunSkipped      = "reconcile.skipped"
	TypeRunCompleted    = "reconcile.completed"
	TypeRegionCompleted = "region.completed"
	TypeRegionFailed    = "region.failed"
	TypeDirectoryBuilt  = "directory.built"
)

type Event struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id,omitempty"`
	Region   string    `json:"region,omitempty"`
	Inserted int       `json:"inserted,omitempty"`
	Adopted  int       `json:"adopted,omitempty"`
	Retired  int       `json:"retired,omitempty"`
	Enriched int       `json:"enriched,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher receives events. The Hub is one; Discard drops everything.
type Publisher interface {
	Publish(Event)
}

type discard struct{}

func (discard) Publish(Event) {}

var Discard Publisher = discard{}
