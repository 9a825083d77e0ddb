package round

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxPicks is how many drawings a voter may rank
const MaxPicks = 3

var (
	// ErrSelfVote is returned when a voter ranks their own drawing
	ErrSelfVote = errors.New("cannot vote for your own drawing")
	// ErrInvalidVote is returned for empty, oversized or repeated picks and
	// for picks of players without a submission
	ErrInvalidVote = errors.New("invalid vote")
)

// Standing is one player's share of the round's ranked votes
type Standing struct {
	PlayerID string `json:"player_id"`
	Points   int    `json:"points"`
	Firsts   int    `json:"firsts"`
	Votes    int    `json:"votes"`
}

// Vote records voter's ranking of other players' drawings, best first. A
// later vote from the same voter replaces the earlier one.
func (r *Round) Vote(voter string, picks []string) error {
	if voter == "" {
		return fmt.Errorf("%w: missing voter", ErrInvalidVote)
	}
	if len(picks) == 0 || len(picks) > MaxPicks {
		return fmt.Errorf("%w: rank between 1 and %d drawings", ErrInvalidVote, MaxPicks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(picks))
	for _, p := range picks {
		if p == voter {
			return ErrSelfVote
		}
		if seen[p] {
			return fmt.Errorf("%w: %s ranked twice", ErrInvalidVote, p)
		}
		if _, ok := r.submissions[p]; !ok {
			return fmt.Errorf("%w: %s has no drawing in this round", ErrInvalidVote, p)
		}
		seen[p] = true
	}

	if _, ok := r.votes[voter]; !ok {
		r.voters = append(r.voters, voter)
	}
	r.votes[voter] = append([]string(nil), picks...)
	r.touched = time.Now()
	return nil
}

// Votes returns a copy of every ranking keyed by voter
func (r *Round) Votes() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.votes))
	for voter, picks := range r.votes {
		out[voter] = append([]string(nil), picks...)
	}
	return out
}

// Tally scores the rankings: a first place earns MaxPicks points, second
// one less, and so on. Every player with a submission is listed, highest
// points first, then most first places, then submission order.
func (r *Round) Tally() []Standing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index := make(map[string]int, len(r.order))
	standings := make([]Standing, len(r.order))
	for i, id := range r.order {
		index[id] = i
		standings[i].PlayerID = id
	}

	for _, voter := range r.voters {
		for rank, p := range r.votes[voter] {
			st := &standings[index[p]]
			st.Points += MaxPicks - rank
			st.Votes++
			if rank == 0 {
				st.Firsts++
			}
		}
	}

	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].Points != standings[j].Points {
			return standings[i].Points > standings[j].Points
		}
		return standings[i].Firsts > standings[j].Firsts
	})
	return standings
}
