package catalog

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/menta2k/sketch-scorer/pkg/grid"
	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 33 {
		t.Fatalf("Expected 33 drawings, got %d", len(all))
	}

	seen := make(map[string]bool)
	for _, d := range all {
		if seen[d.ID] {
			t.Errorf("Duplicate drawing id %s", d.ID)
		}
		seen[d.ID] = true
		if !strings.Contains(d.SVG, "<svg") {
			t.Errorf("Drawing %s has no markup", d.ID)
		}
		if d.Name == "" {
			t.Errorf("Drawing %s has no name", d.ID)
		}
	}
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	all[0].Name = "changed"
	if All()[0].Name == "changed" {
		t.Error("Expected All to return a copy")
	}
}

func TestByID(t *testing.T) {
	d, err := ByID("house")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Name != "House" || d.Difficulty != Easy {
		t.Errorf("Expected House/easy, got %s/%s", d.Name, d.Difficulty)
	}
	if d.Source().Kind != types.KindMarkup {
		t.Errorf("Expected markup source, got %s", d.Source().Kind)
	}

	_, err = ByID("spaceship")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFilter(t *testing.T) {
	counts := map[Difficulty]int{Easy: 8, Medium: 16, Hard: 9, Any: 33}
	for d, want := range counts {
		got := Filter(d)
		if len(got) != want {
			t.Errorf("Expected %d %s drawings, got %d", want, d, len(got))
		}
		for _, dr := range got {
			if !d.Matches(dr.Difficulty) {
				t.Errorf("Drawing %s (%s) does not match filter %s", dr.ID, dr.Difficulty, d)
			}
		}
	}
}

func TestParseDifficulty(t *testing.T) {
	cases := map[string]Difficulty{"easy": Easy, "MEDIUM": Medium, " hard ": Hard, "all": Any, "": Any}
	for in, want := range cases {
		got, err := ParseDifficulty(in)
		if err != nil {
			t.Errorf("Unexpected error for %q: %v", in, err)
		}
		if got != want {
			t.Errorf("Expected %s for %q, got %s", want, in, got)
		}
	}

	if _, err := ParseDifficulty("impossible"); err == nil {
		t.Error("Expected error for unknown difficulty")
	}
}

func TestPickerRandom(t *testing.T) {
	p := NewPicker(rand.NewPCG(1, 2))

	var used []string
	for i := 0; i < 8; i++ {
		d, ok := p.Random(used, Easy)
		if !ok {
			t.Fatalf("Expected a drawing on pick %d", i)
		}
		if d.Difficulty != Easy {
			t.Errorf("Expected easy drawing, got %s", d.Difficulty)
		}
		for _, id := range used {
			if id == d.ID {
				t.Errorf("Drawing %s picked twice", d.ID)
			}
		}
		used = append(used, d.ID)
	}

	if _, ok := p.Random(used, Easy); ok {
		t.Error("Expected no drawing once every easy drawing is used")
	}
}

func TestPickerDeterministic(t *testing.T) {
	a := NewPicker(rand.NewPCG(7, 7))
	b := NewPicker(rand.NewPCG(7, 7))
	for i := 0; i < 10; i++ {
		da, _ := a.Random(nil, Any)
		db, _ := b.Random(nil, Any)
		if da.ID != db.ID {
			t.Errorf("Pick %d: expected %s, got %s", i, da.ID, db.ID)
		}
	}
}

func TestDrawingsRasterize(t *testing.T) {
	r := raster.New()
	for _, d := range All() {
		b := grid.Binarize(r.Rasterize(d.Source(), 100), grid.DefaultThreshold)
		if b.Count() == 0 {
			t.Errorf("Drawing %s rasterized to a blank grid", d.ID)
		}
	}
}
