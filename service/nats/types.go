package nats

import (
	"time"
)

// Stage names a point in the launch pipeline that produced an event.
type Stage string

const (
	StageTableReady  Stage = "table_ready"
	StageCompiled    Stage = "compiled"
	StageSubmitted   Stage = "submitted"
	StageConfirmed   Stage = "confirmed"
	StageUnconfirmed Stage = "unconfirmed"
	StageFailed      Stage = "failed"
)

// LaunchEvent represents a launch progress event published to NATS.
// This is published to the subject "launches.{mint}" in JetStream.
type LaunchEvent struct {
	LaunchID string `json:"launch_id"`
	Mint     string `json:"mint"`
	Stage    Stage  `json:"stage"`

	// Populated once the relevant stage has been reached
	LookupTable     string   `json:"lookup_table,omitempty"`
	BundleID        string   `json:"bundle_id,omitempty"`
	AnchorSignature string   `json:"anchor_signature,omitempty"`
	Signatures      []string `json:"signatures,omitempty"`
	Transactions    int      `json:"transactions,omitempty"`
	LatencyMillis   int64    `json:"latency_ms,omitempty"`

	Error string `json:"error,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject the event is published to.
func (e *LaunchEvent) Subject() string {
	return SubjectPrefix + e.Mint
}
