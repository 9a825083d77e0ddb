// Package catalog holds the reference line-art drawings players are asked to
// reproduce.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/menta2k/sketch-scorer/pkg/types"
)

//go:embed drawings/*.svg
var files embed.FS

// ErrNotFound is returned for an unknown drawing id
var ErrNotFound = errors.New("drawing not found")

// Difficulty grades how hard a drawing is to describe and draw
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
	// Any matches every difficulty when filtering
	Any Difficulty = "all"
)

// ParseDifficulty accepts easy, medium, hard or all (case-insensitive). An
// empty string means Any.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Any, nil
	case Easy, Medium, Hard, Any:
		return d, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q (expected easy, medium, hard or all)", s)
	}
}

// Matches reports whether a drawing of difficulty other passes this filter
func (d Difficulty) Matches(other Difficulty) bool {
	return d == Any || d == other
}

// Drawing is one reference image
type Drawing struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Difficulty Difficulty `json:"difficulty"`
	SVG        string     `json:"-"`
}

// Source returns the drawing's markup for the scoring engine
func (d Drawing) Source() types.Source {
	return types.Markup(d.SVG)
}

var entries = []Drawing{
	{ID: "house", Name: "House", Difficulty: Easy},
	{ID: "tree", Name: "Tree", Difficulty: Easy},
	{ID: "star", Name: "Star", Difficulty: Easy},
	{ID: "heart", Name: "Heart", Difficulty: Easy},
	{ID: "sun", Name: "Sun", Difficulty: Easy},
	{ID: "flower", Name: "Flower", Difficulty: Easy},
	{ID: "icecream", Name: "Ice Cream Cone", Difficulty: Easy},
	{ID: "present", Name: "Gift Box", Difficulty: Easy},

	{ID: "bicycle", Name: "Bicycle", Difficulty: Medium},
	{ID: "umbrella", Name: "Umbrella", Difficulty: Medium},
	{ID: "coffee", Name: "Coffee Cup", Difficulty: Medium},
	{ID: "scissors", Name: "Scissors", Difficulty: Medium},
	{ID: "glasses", Name: "Eyeglasses", Difficulty: Medium},
	{ID: "lightbulb", Name: "Light Bulb", Difficulty: Medium},
	{ID: "anchor", Name: "Anchor", Difficulty: Medium},
	{ID: "crown", Name: "Crown", Difficulty: Medium},
	{ID: "rocket", Name: "Rocket", Difficulty: Medium},
	{ID: "fish", Name: "Fish", Difficulty: Medium},
	{ID: "flag", Name: "Flag", Difficulty: Medium},
	{ID: "mushroom", Name: "Mushroom", Difficulty: Medium},
	{ID: "snowman", Name: "Snowman", Difficulty: Medium},
	{ID: "boat", Name: "Boat", Difficulty: Medium},
	{ID: "cup", Name: "Cup", Difficulty: Medium},
	{ID: "bell", Name: "Bell", Difficulty: Medium},

	{ID: "guitar", Name: "Guitar", Difficulty: Hard},
	{ID: "sailboat", Name: "Sailboat", Difficulty: Hard},
	{ID: "camera", Name: "Camera", Difficulty: Hard},
	{ID: "hourglass", Name: "Hourglass", Difficulty: Hard},
	{ID: "cactus", Name: "Cactus in Pot", Difficulty: Hard},
	{ID: "hotairballoon", Name: "Hot Air Balloon", Difficulty: Hard},
	{ID: "castle", Name: "Castle", Difficulty: Hard},
	{ID: "telescope", Name: "Telescope", Difficulty: Hard},
	{ID: "turtle", Name: "Turtle", Difficulty: Hard},
}

var (
	loadOnce sync.Once
	loaded   []Drawing
)

func load() []Drawing {
	loadOnce.Do(func() {
		loaded = make([]Drawing, 0, len(entries))
		for _, e := range entries {
			data, err := files.ReadFile("drawings/" + e.ID + ".svg")
			if err != nil {
				panic(fmt.Sprintf("catalog: missing markup for %s: %v", e.ID, err))
			}
			e.SVG = string(data)
			loaded = append(loaded, e)
		}
	})
	return loaded
}

// All returns every drawing in catalog order
func All() []Drawing {
	return slices.Clone(load())
}

// ByID looks a drawing up by its stable id
func ByID(id string) (Drawing, error) {
	for _, d := range load() {
		if d.ID == id {
			return d, nil
		}
	}
	return Drawing{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Filter returns the drawings matching difficulty d
func Filter(d Difficulty) []Drawing {
	var out []Drawing
	for _, dr := range load() {
		if d.Matches(dr.Difficulty) {
			out = append(out, dr)
		}
	}
	return out
}

// Names returns the display names of the drawings matching d
func Names(d Difficulty) []string {
	var names []string
	for _, dr := range Filter(d) {
		names = append(names, dr.Name)
	}
	return names
}

// Picker draws random reference images for a game. It is safe for
// concurrent use.
type Picker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPicker creates a Picker backed by src; a nil src uses a randomly seeded
// generator
func NewPicker(src rand.Source) *Picker {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Picker{rnd: rand.New(src)}
}

// Random picks a drawing of difficulty d that is not in used. It returns
// false once every matching drawing has been used.
func (p *Picker) Random(used []string, d Difficulty) (Drawing, bool) {
	var available []Drawing
	for _, dr := range Filter(d) {
		if !slices.Contains(used, dr.ID) {
			available = append(available, dr)
		}
	}
	if len(available) == 0 {
		return Drawing{}, false
	}

	p.mu.Lock()
	i := p.rnd.IntN(len(available))
	p.mu.Unlock()
	return available[i], true
}
