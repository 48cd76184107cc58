// Package wizard drives the guided release flows: resumable step graphs over
// the step state machine, with one persisted session slot per product.
package wizard

import (
	"time"

	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/version"
)

// Kind selects the wizard variant.
type Kind string

const (
	// KindApp releases an application product: one optional commit pick,
	// smart resolution for the rest.
	KindApp Kind = "app"

	// KindContent releases a content product: an explicit commit pick for
	// every repo, walked in order.
	KindContent Kind = "content"
)

// Valid reports whether k names a wizard variant.
func (k Kind) Valid() bool {
	return k == KindApp || k == KindContent
}

// Step names. The summary step is the hub; edits route back to it.
const (
	stepProduct = "product"
	stepChannel = "channel"
	stepBump    = "bump"
	stepSHA     = "sha"
	stepRepos   = "repos"
	stepTag     = "tag"
	stepSummary = "summary"
	stepNotes   = "notes"
	stepConfirm = "confirm"
)

// SessionSchemaVersion guards session files against incompatible readers.
// There is no migration; a mismatch means reset.
const SessionSchemaVersion = 1

// Session is the durable wizard state. It is persisted after every step
// transition, so an interrupted wizard resumes where it stopped.
type Session struct {
	Schema    int       `json:"schema"`
	Kind      Kind      `json:"kind"`
	Product   string    `json:"product"`
	Step      string    `json:"step"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	Channel config.Channel `json:"channel,omitempty"`
	Bump    version.Bump   `json:"bump,omitempty"`

	// Tag is derived from channel, bump, and picks. Any edit to those
	// clears it.
	Tag string `json:"tag,omitempty"`

	// Picks maps repo id to the chosen commit sha.
	Picks map[string]string `json:"picks,omitempty"`

	// RepoCursor indexes the repo the content walk visits next.
	RepoCursor int `json:"repo_cursor,omitempty"`

	NotesFile string `json:"notes_file,omitempty"`
	NotesText string `json:"notes_text,omitempty"`

	// ReturnToSummary makes the next completed step route back to the
	// summary hub instead of continuing linearly.
	ReturnToSummary bool `json:"return_to_summary,omitempty"`

	// Cursors remembers list positions per prompt so re-entry lands where
	// the operator left off.
	Cursors map[string]int `json:"cursors,omitempty"`
}

func newSession(kind Kind, createdBy string) Session {
	return Session{
		Schema:    SessionSchemaVersion,
		Kind:      kind,
		Step:      stepProduct,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
}

func (s Session) cursor(key string) int {
	return s.Cursors[key]
}

// withCursor returns a copy with the prompt cursor recorded. The map is
// copied because sessions travel by value through the state machine.
func (s Session) withCursor(key string, idx int) Session {
	cursors := make(map[string]int, len(s.Cursors)+1)
	for k, v := range s.Cursors {
		cursors[k] = v
	}
	cursors[key] = idx
	s.Cursors = cursors
	return s
}

// withPick returns a copy with the repo's commit pick set, or removed when
// sha is empty.
func (s Session) withPick(id, sha string) Session {
	picks := make(map[string]string, len(s.Picks)+1)
	for k, v := range s.Picks {
		picks[k] = v
	}
	if sha == "" {
		delete(picks, id)
	} else {
		picks[id] = sha
	}
	s.Picks = picks
	return s
}

// route sends the session to next, or back to the summary hub when a summary
// edit is in flight.
func (s Session) route(next string) Session {
	if s.ReturnToSummary {
		s.ReturnToSummary = false
		s.Step = stepSummary
		return s
	}
	s.Step = next
	return s
}
