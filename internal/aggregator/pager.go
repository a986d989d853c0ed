package aggregator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SplitMode selects how a fragment that overflows the open page is placed.
type SplitMode string

const (
	// SplitFragment closes the open page and starts the next one with the
	// whole fragment, so fragments are never cut unless they exceed the budget.
	SplitFragment SplitMode = "fragment"
	// SplitFill fills the open page to exactly the budget and spills the rest.
	SplitFill SplitMode = "fill"
)

func ParseSplitMode(s string) (SplitMode, error) {
	switch SplitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SplitFragment:
		return SplitFragment, nil
	case SplitFill:
		return SplitFill, nil
	default:
		return "", fmt.Errorf("unsupported split mode %q", s)
	}
}

// Pager accumulates fragments into pages of at most budget runes. Only the
// last page ever grows; earlier pages are closed and never change.
type Pager struct {
	budget int
	mode   SplitMode
	pages  []*strings.Builder
	open   int
}

func NewPager(budget int, mode SplitMode) *Pager {
	if budget <= 0 {
		budget = 1800
	}
	if mode == "" {
		mode = SplitFragment
	}
	return &Pager{budget: budget, mode: mode}
}

func (p *Pager) Append(fragment string) {
	n := utf8.RuneCountInString(fragment)
	if n == 0 {
		return
	}
	if len(p.pages) > 0 && p.open+n <= p.budget {
		p.pages[len(p.pages)-1].WriteString(fragment)
		p.open += n
		return
	}

	rest := fragment
	if p.mode == SplitFill && len(p.pages) > 0 {
		head, tail := cutRunes(rest, p.budget-p.open)
		p.pages[len(p.pages)-1].WriteString(head)
		rest = tail
	}
	for rest != "" {
		head, tail := cutRunes(rest, p.budget)
		p.startPage(head)
		rest = tail
	}
}

func (p *Pager) startPage(text string) {
	b := &strings.Builder{}
	b.WriteString(text)
	p.pages = append(p.pages, b)
	p.open = utf8.RuneCountInString(text)
}

// Pages returns a copy of every page, the last one possibly still open.
func (p *Pager) Pages() []string {
	out := make([]string, len(p.pages))
	for i := range p.pages {
		out[i] = p.pages[i].String()
	}
	return out
}

func (p *Pager) Len() int { return len(p.pages) }

// Text is the concatenation of all pages.
func (p *Pager) Text() string {
	var b strings.Builder
	for i := range p.pages {
		b.WriteString(p.pages[i].String())
	}
	return b.String()
}

// cutRunes splits s after n runes.
func cutRunes(s string, n int) (string, string) {
	if n <= 0 {
		return "", s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
