package client

import (
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// Turn is one transcript entry held by the reconciler.
type Turn struct {
	// ID is a client-local correlation id (a ULID for optimistic user
	// turns, role-qualified once confirmed). It keeps a turn's identity
	// stable across merges.
	ID        string
	Role      string
	Content   string
	Timestamp int64
	// Seq is the authoritative sequence number, 0 while unconfirmed.
	Seq int
	// Streaming marks an assistant turn still being assembled from
	// chunks.
	Streaming bool
}

// Reconciler maintains a local transcript for one session and merges
// streamed events and replayed history into it without duplicating or
// losing turns. It is not safe for concurrent use; drive it from the
// goroutine consuming the event stream.
type Reconciler struct {
	sessionID string
	turns     []Turn
	lastSeq   int
}

// NewReconciler creates a reconciler for the given session.
func NewReconciler(sessionID string) *Reconciler {
	return &Reconciler{sessionID: sessionID}
}

// SessionID returns the watched session's id.
func (r *Reconciler) SessionID() string { return r.sessionID }

// LastSeq returns the highest sequence number incorporated so far; the
// `since` argument for the next replay request.
func (r *Reconciler) LastSeq() int { return r.lastSeq }

// Transcript returns a copy of the current turns in order.
func (r *Reconciler) Transcript() []Turn {
	out := make([]Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// AddLocalUserTurn appends an optimistic user turn that has not yet been
// acknowledged by the server, returning its correlation id. Replay stamps
// it with the authoritative seq instead of appending a duplicate.
func (r *Reconciler) AddLocalUserTurn(content string) string {
	id := ulid.Make().String()
	r.turns = append(r.turns, Turn{
		ID:        id,
		Role:      "user",
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
	return id
}

// ApplyChunk folds a streamed fragment into the transcript: appended to
// the currently-streaming assistant turn, or starting one.
func (r *Reconciler) ApplyChunk(content string, seq int) {
	if seq > r.lastSeq {
		r.lastSeq = seq
	}

	if last := r.last(); last != nil && last.Streaming && last.Role == "assistant" {
		last.Content += content
		return
	}
	r.turns = append(r.turns, Turn{
		ID:        turnID("assistant", seq),
		Role:      "assistant",
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Seq:       seq,
		Streaming: true,
	})
}

// ApplyFinal replaces the streaming turn's content with the authoritative
// terminal form and marks it complete.
func (r *Reconciler) ApplyFinal(content string, seq int) {
	if seq > r.lastSeq {
		r.lastSeq = seq
	}

	if last := r.last(); last != nil && last.Streaming && last.Role == "assistant" {
		last.ID = turnID("assistant", seq)
		last.Content = content
		last.Seq = seq
		last.Streaming = false
		return
	}
	r.turns = append(r.turns, Turn{
		ID:        turnID("assistant", seq),
		Role:      "assistant",
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Seq:       seq,
	})
}

// MergeReplay folds replayed history into the transcript. Idempotent:
// merging the same gap twice, or a gap overlapping already-merged entries,
// yields the same transcript.
func (r *Reconciler) MergeReplay(messages []HistoryMessage) {
	if len(messages) == 0 {
		return
	}

	sorted := make([]HistoryMessage, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	existing := make(map[int]bool)
	for _, t := range r.turns {
		if t.Seq > 0 {
			existing[t.Seq] = true
		}
	}

	for _, msg := range sorted {
		// An authoritative assistant entry collapses a local partial
		// turn into its confirmed form rather than appending next to it.
		if msg.Role == "assistant" {
			if last := r.last(); last != nil && last.Role == "assistant" && last.Streaming {
				last.ID = turnID("assistant", msg.Seq)
				last.Content = msg.Content
				last.Timestamp = msg.Timestamp
				last.Seq = msg.Seq
				last.Streaming = false
				existing[msg.Seq] = true
				r.bumpSeq(msg.Seq)
				continue
			}
		}

		if existing[msg.Seq] {
			r.bumpSeq(msg.Seq)
			continue
		}

		// A replayed user entry may be the confirmation of an optimistic
		// local turn; stamp the newest unconfirmed match instead of
		// appending a duplicate.
		if msg.Role == "user" {
			if t := r.newestUnconfirmedUser(msg.Content); t != nil {
				t.ID = turnID("user", msg.Seq)
				t.Timestamp = msg.Timestamp
				t.Seq = msg.Seq
				existing[msg.Seq] = true
				r.bumpSeq(msg.Seq)
				continue
			}
		}

		r.turns = append(r.turns, Turn{
			ID:        turnID(msg.Role, msg.Seq),
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			Seq:       msg.Seq,
		})
		existing[msg.Seq] = true
		r.bumpSeq(msg.Seq)
	}
}

func (r *Reconciler) bumpSeq(seq int) {
	if seq > r.lastSeq {
		r.lastSeq = seq
	}
}

func (r *Reconciler) last() *Turn {
	if len(r.turns) == 0 {
		return nil
	}
	return &r.turns[len(r.turns)-1]
}

// newestUnconfirmedUser finds the most recent local user turn with the
// given content and no seq yet. Content equality is ambiguous for two
// identical unacknowledged texts; the correlation id keeps identity stable
// but cannot disambiguate which server entry is which.
func (r *Reconciler) newestUnconfirmedUser(content string) *Turn {
	for i := len(r.turns) - 1; i >= 0; i-- {
		t := &r.turns[i]
		if t.Role == "user" && t.Seq == 0 && t.Content == content {
			return t
		}
	}
	return nil
}

// turnID identifies a confirmed turn by its authoritative seq.
func turnID(role string, seq int) string {
	return role + "-" + strconv.Itoa(seq)
}
