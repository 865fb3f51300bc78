// Package notify announces completed ingestion runs to downstream consumers.
package notify

import (
	"time"
)

const (
	EventVersion = "1.0"
	EventType    = "ingest_completed"
)

// Event is the completion event consumed by the transformation scheduler.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo      `json:"run"`
	Objects  []ObjectInfo `json:"objects"`
	Producer ProducerInfo `json:"producer"`
	Chain    ChainInfo    `json:"chain"`
}

// RunInfo identifies the run and the interval it covered.
type RunInfo struct {
	RunID      string   `json:"run_id"`
	Output     string   `json:"output"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	Currencies []string `json:"currencies"`
	Chunks     int      `json:"chunks"`
	Written    int      `json:"written"`
	Skipped    int      `json:"skipped"`
}

// ObjectInfo describes one written object.
type ObjectInfo struct {
	Key        string `json:"key"`
	URI        string `json:"uri"`
	ChunkStart string `json:"chunk_start"`
	ChunkEnd   string `json:"chunk_end"`
	ByteSize   int64  `json:"byte_size"`
	Checksum   string `json:"checksum"`
}

// ProducerInfo identifies the software that produced the data.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links successive events for the same output location.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to.
func (e *Event) ChainKey() string {
	return e.Run.Output
}

// SetChainHashes sets the previous hash and computes this event's hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}
