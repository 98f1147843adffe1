package block

import (
	"errors"
	"regexp"
	"strings"
)

// Locator finds generation blocks using a start-marker and an end-marker
// pattern. It is safe for concurrent use.
type Locator struct {
	start *regexp.Regexp
	end   *regexp.Regexp
}

// NewLocator builds a Locator from template name aliases, e.g.
// []string{"Wikidata list"} and []string{"Wikidata list end"}.
//
// Matching ignores case and treats a space or underscore in an alias as either.
// The start pattern anchors only "{{" and the name; the rest of the start
// marker is resolved by brace matching.
func NewLocator(startAliases, endAliases []string) (*Locator, error) {
	sa := aliasAlternation(startAliases)
	ea := aliasAlternation(endAliases)
	if sa == "" || ea == "" {
		return nil, errors.New("block: start and end aliases are required")
	}
	start, err := regexp.Compile(`(?is)\{\{(` + sa + `)[^|}]*`)
	if err != nil {
		return nil, err
	}
	end, err := regexp.Compile(`(?is)\{\{(` + ea + `)(\s*\}\})`)
	if err != nil {
		return nil, err
	}
	return &Locator{start: start, end: end}, nil
}

// NewLocatorFromPatterns uses caller-built patterns. start must match from the
// opening "{{" through the marker name.
func NewLocatorFromPatterns(start, end *regexp.Regexp) *Locator {
	return &Locator{start: start, end: end}
}

func aliasAlternation(aliases []string) string {
	alts := make([]string, 0, len(aliases))
	for _, a := range aliases {
		words := strings.FieldsFunc(a, func(r rune) bool { return r == ' ' || r == '_' })
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, "[ _]"))
	}
	return strings.Join(alts, "|")
}

// Locate returns the first generation block in doc.
//
// ok is false when doc has no start marker, when the first end marker begins
// inside the start marker, when the start marker's braces never close, or when
// the start marker has no name. None of these are errors for the caller: the
// document simply has nothing to regenerate.
func (l *Locator) Locate(doc string) (*Block, bool) {
	sm := l.start.FindStringIndex(doc)
	if sm == nil {
		return nil, false
	}
	startBeg, startEnd := sm[0], sm[1]

	// The end marker is searched from the start marker's beginning so that an
	// end marker overlapping the start is seen and rejected.
	selfClosing := true
	endBeg, endEnd := len(doc), len(doc)
	if em := l.end.FindStringIndex(doc[startBeg:]); em != nil {
		endBeg, endEnd = startBeg+em[0], startBeg+em[1]
		if endBeg < startEnd {
			return nil, false
		}
		selfClosing = false
	}

	n, ok := MatchBraces(doc[startEnd:endBeg], 2)
	if !ok {
		return nil, false
	}
	markerEnd := startEnd + n

	spec, err := ParseSpecification(doc[startBeg+2 : markerEnd-2])
	if err != nil {
		return nil, false
	}

	b := &Block{
		Leading:     doc[:startBeg],
		StartMarker: doc[startBeg:markerEnd],
		Spec:        spec,
		SelfClosing: selfClosing,
	}
	if selfClosing {
		b.Trailing = doc[markerEnd:]
		return b, true
	}
	b.Payload = doc[markerEnd:endBeg]
	b.EndMarker = doc[endBeg:endEnd]
	b.Trailing = doc[endEnd:]
	return b, true
}

// Split finds every block in doc, in order. Each search continues in the
// previous block's trailing text, which is moved to the next block's Leading
// (or to Document.Tail after the last block). Splitting stops after a
// self-closing block because no end marker follows it.
func (l *Locator) Split(doc string) *Document {
	d := &Document{}
	rest := doc
	for {
		b, ok := l.Locate(rest)
		if !ok {
			d.Tail = rest
			return d
		}
		rest = b.Trailing
		b.Trailing = ""
		d.Blocks = append(d.Blocks, b)
		if b.SelfClosing {
			d.Tail = rest
			return d
		}
	}
}
