// Package round keeps the per-round record of submissions and scores them
// as they arrive.
package round

import (
	"errors"
	"sync"
	"time"

	"github.com/menta2k/sketch-scorer/pkg/types"
)

var (
	// ErrDuplicate is returned when a player submits twice in one round
	ErrDuplicate = errors.New("player already submitted")
	// ErrClosed is returned when submitting to a closed queue
	ErrClosed = errors.New("round is closed")
)

// Submission is one player's drawing and, once scored, its result
type Submission struct {
	PlayerID    string          `json:"player_id"`
	Image       types.Source    `json:"-"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Scored      bool            `json:"scored"`
	Score       int             `json:"score"`
	Transform   types.Transform `json:"transform"`
	Overlay     []byte          `json:"-"`
	ScoredAt    time.Time       `json:"scored_at,omitempty"`
}

// Round is the record of one drawing round. It is safe for concurrent use.
type Round struct {
	ID        string       `json:"id"`
	DrawingID string       `json:"drawing_id"`
	Original  types.Source `json:"-"`
	CreatedAt time.Time    `json:"created_at"`

	mu          sync.RWMutex
	submissions map[string]*Submission
	order       []string
	votes       map[string][]string // voter -> picks, best first
	voters      []string
	touched     time.Time
}

// New creates an empty round for a reference drawing
func New(id, drawingID string, original types.Source) *Round {
	now := time.Now()
	return &Round{
		ID:          id,
		DrawingID:   drawingID,
		Original:    original,
		CreatedAt:   now,
		submissions: make(map[string]*Submission),
		votes:       make(map[string][]string),
		touched:     now,
	}
}

// LastActivity is when the round was created or last received a
// submission, a score or a vote
func (r *Round) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.touched
}

// Add records a new, unscored submission
func (r *Round) Add(playerID string, image types.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.submissions[playerID]; ok {
		return ErrDuplicate
	}
	r.touched = time.Now()
	r.submissions[playerID] = &Submission{
		PlayerID:    playerID,
		Image:       image,
		SubmittedAt: r.touched,
	}
	r.order = append(r.order, playerID)
	return nil
}

// Apply stores a scoring result on the player's submission. Results for
// unknown players are ignored and reported as false.
func (r *Round) Apply(playerID string, res types.ScoringResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.submissions[playerID]
	if !ok {
		return false
	}
	s.Scored = true
	s.Score = res.Score
	s.Transform = res.Transform
	s.Overlay = res.Overlay
	s.ScoredAt = time.Now()
	r.touched = s.ScoredAt
	return true
}

// Submission returns a copy of the player's submission
func (r *Round) Submission(playerID string) (Submission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.submissions[playerID]
	if !ok {
		return Submission{}, false
	}
	return *s, true
}

// Submissions returns copies of all submissions in the order they arrived
func (r *Round) Submissions() []Submission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Submission, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.submissions[id])
	}
	return out
}

// Unscored returns the ids of players still waiting for a score, in
// submission order
func (r *Round) Unscored() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		if !r.submissions[id].Scored {
			ids = append(ids, id)
		}
	}
	return ids
}

// Complete reports whether every submission has been scored
func (r *Round) Complete() bool {
	return len(r.Unscored()) == 0
}
