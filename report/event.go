// Package report defines the structured outcome records emitted by the
// annotation engine, one per processed image. Sinks (stdout, webhook, NATS,
// SQLite, callback) consume this package.
package report

// Outcome is what the engine did with an inserted image.
type Outcome string

const (
	OutcomeAnnotated   Outcome = "annotated"
	OutcomeNotImage    Outcome = "ignored_not_image" // only reachable through Engine.Annotate
	OutcomeProfile     Outcome = "ignored_profile"   // avatar, never annotated
	OutcomeEmoji       Outcome = "ignored_emoji"     // inline emoji or emoji sprite
	OutcomeThumbnail   Outcome = "ignored_thumbnail" // inside the configured thumbnail region
	OutcomeNoContainer Outcome = "skipped_no_container"
	OutcomeHidden      Outcome = "skipped_hidden" // container is aria-hidden
	OutcomeFailed      Outcome = "failed"
)

// Event is a single annotation outcome.
type Event struct {
	ID            string  `json:"id"` // UUIDv7
	PageID        string  `json:"page_id"`
	PageURL       string  `json:"page_url"`
	BatchSeq      uint64  `json:"batch_seq"`
	AssociationID int64   `json:"association_id,omitempty"` // 0 unless annotated
	Src           string  `json:"src,omitempty"`
	Alt           string  `json:"alt,omitempty"` // normalised alt text
	NoAlt         bool    `json:"no_alt,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Text          string  `json:"text,omitempty"` // overlay text content
	Error         string  `json:"error,omitempty"`
	Timestamp     int64   `json:"timestamp"` // epoch milliseconds
}
