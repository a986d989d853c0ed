package aggregator

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPagerFillSplitsAtBudget(t *testing.T) {
	p := NewPager(10, SplitFill)
	p.Append("Hello")
	p.Append(" world")
	got := p.Pages()
	if len(got) != 2 || got[0] != "Hello worl" || got[1] != "d" {
		t.Fatalf("Pages() = %q, want [\"Hello worl\" \"d\"]", got)
	}
}

func TestPagerFragmentStartsNewPage(t *testing.T) {
	p := NewPager(10, SplitFragment)
	p.Append("Hello")
	p.Append(" world")
	p.Append("!")
	got := p.Pages()
	if len(got) != 2 || got[0] != "Hello" || got[1] != " world!" {
		t.Fatalf("Pages() = %q, want [\"Hello\" \" world!\"]", got)
	}
}

func TestPagerFragmentCutsOversizedFragment(t *testing.T) {
	p := NewPager(4, SplitFragment)
	p.Append("ab")
	p.Append("cdefghij")
	got := p.Pages()
	want := []string{"ab", "cdef", "ghij"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Pages() = %q, want %q", got, want)
	}
}

func TestPagerIgnoresEmptyFragments(t *testing.T) {
	p := NewPager(4, SplitFragment)
	p.Append("")
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
}

func TestPagerCountsRunes(t *testing.T) {
	p := NewPager(3, SplitFill)
	p.Append("héé")
	p.Append("ü")
	got := p.Pages()
	if len(got) != 2 || got[0] != "héé" || got[1] != "ü" {
		t.Fatalf("Pages() = %q, want [héé ü]", got)
	}
}

func TestPagerRoundTripAndBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abc déf→ghi\n")
	for _, mode := range []SplitMode{SplitFragment, SplitFill} {
		for trial := 0; trial < 200; trial++ {
			budget := 1 + rng.Intn(20)
			p := NewPager(budget, mode)
			var input strings.Builder
			var frags []string
			for i := rng.Intn(30); i > 0; i-- {
				n := rng.Intn(budget * 2)
				var f strings.Builder
				for j := 0; j < n; j++ {
					f.WriteRune(alphabet[rng.Intn(len(alphabet))])
				}
				frags = append(frags, f.String())
				input.WriteString(f.String())
				p.Append(f.String())
			}

			pages := p.Pages()
			if got := strings.Join(pages, ""); got != input.String() {
				t.Fatalf("%s budget=%d frags=%q: joined pages = %q, want %q", mode, budget, frags, got, input.String())
			}
			for i, page := range pages {
				n := utf8.RuneCountInString(page)
				if n > budget || n == 0 {
					t.Fatalf("%s budget=%d: page %d has %d runes", mode, budget, i, n)
				}
				if i+1 < len(pages) && n+utf8.RuneCountInString(pages[i+1]) <= budget {
					t.Fatalf("%s budget=%d: pages %d and %d could have been one page", mode, budget, i, i+1)
				}
			}
		}
	}
}

func TestParseSplitMode(t *testing.T) {
	if m, err := ParseSplitMode(""); err != nil || m != SplitFragment {
		t.Fatalf("ParseSplitMode(\"\") = %q, %v", m, err)
	}
	if m, err := ParseSplitMode(" FILL "); err != nil || m != SplitFill {
		t.Fatalf("ParseSplitMode(FILL) = %q, %v", m, err)
	}
	if _, err := ParseSplitMode("word"); err == nil {
		t.Fatalf("ParseSplitMode(word) expected error")
	}
}
