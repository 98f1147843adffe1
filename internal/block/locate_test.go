package block

import "testing"

func newTestLocator(t *testing.T, start, end string) *Locator {
	t.Helper()
	l, err := NewLocator([]string{start}, []string{end})
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	return l
}

func TestLocateNestedParameter(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	doc := "before {{X|a=1|b={{Y|z=2}}}} mid {{X end}} after"

	b, ok := l.Locate(doc)
	if !ok {
		t.Fatal("expected a block")
	}
	if b.Leading != "before " {
		t.Fatalf("Leading = %q", b.Leading)
	}
	if b.StartMarker != "{{X|a=1|b={{Y|z=2}}}}" {
		t.Fatalf("StartMarker = %q", b.StartMarker)
	}
	if b.Payload != " mid " {
		t.Fatalf("Payload = %q", b.Payload)
	}
	if b.EndMarker != "{{X end}}" {
		t.Fatalf("EndMarker = %q", b.EndMarker)
	}
	if b.Trailing != " after" {
		t.Fatalf("Trailing = %q", b.Trailing)
	}
	if b.SelfClosing {
		t.Fatal("unexpected self-closing block")
	}
	if b.Spec.Name != "X" || b.Spec.Params["a"] != "1" || b.Spec.Params["b"] != "{{Y|z=2}}" || len(b.Spec.Params) != 2 {
		t.Fatalf("Spec = %+v", b.Spec)
	}
	if b.String() != doc {
		t.Fatalf("String() = %q, want original", b.String())
	}
}

func TestLocateSelfClosing(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	doc := "intro {{X|sparql=SELECT ?a {}}} outro"

	b, ok := l.Locate(doc)
	if !ok {
		t.Fatal("expected a block")
	}
	if !b.SelfClosing {
		t.Fatal("expected self-closing block")
	}
	if b.Payload != "" || b.EndMarker != "" {
		t.Fatalf("Payload = %q, EndMarker = %q", b.Payload, b.EndMarker)
	}
	if b.StartMarker != "{{X|sparql=SELECT ?a {}}}" {
		t.Fatalf("StartMarker = %q", b.StartMarker)
	}
	if b.Trailing != " outro" {
		t.Fatalf("Trailing = %q", b.Trailing)
	}
	if got := Reassemble(b, "ignored"); got != "intro " {
		t.Fatalf("Reassemble = %q, want leading text only", got)
	}
}

func TestLocateRejects(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no marker", doc: "nothing to see {{Other|a=1}}"},
		{name: "end overlaps start", doc: "a {{X end}} b"},
		{name: "unterminated start", doc: "{{X|a={{Y}} and no close"},
		{name: "start closes past end marker", doc: "{{X|a={{X end}}"},
		{name: "name not directly after braces", doc: "{{ X |a=1}}"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if b, ok := l.Locate(tt.doc); ok {
				t.Fatalf("expected no block, got %+v", b)
			}
		})
	}
}

func TestLocateAliasesAreFlexible(t *testing.T) {
	t.Parallel()
	l, err := NewLocator([]string{"Wikidata list", "Liste Wikidata"}, []string{"Wikidata list end", "Liste Wikidata fin"})
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	doc := "== H ==\n{{wikidata_List\n|sparql=SELECT ?item WHERE {}\n}}\nold rows\n{{Wikidata list END }}\nfooter"

	b, ok := l.Locate(doc)
	if !ok {
		t.Fatal("expected a block")
	}
	if b.Spec.Name != "wikidata_List" {
		t.Fatalf("Name = %q", b.Spec.Name)
	}
	if !b.Spec.Is("Wikidata list") {
		t.Fatal("expected alias match")
	}
	if b.Spec.Params["sparql"] != "SELECT ?item WHERE {}" {
		t.Fatalf("sparql = %q", b.Spec.Params["sparql"])
	}
	if b.EndMarker != "{{Wikidata list END }}" {
		t.Fatalf("EndMarker = %q (must be verbatim)", b.EndMarker)
	}
	if b.Content() != "old rows" {
		t.Fatalf("Content = %q", b.Content())
	}
}

func TestReassembleRoundTrip(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	docs := []string{
		"a {{X|q=1}}\nold\n{{X end}} b",
		"{{X}}\n\n{{X end}}",
		"lead\n{{x|n={{Y|{{Z}}}}}}\n{| class=\"wikitable\"\n|}\n{{X_end}}\n",
	}
	for _, doc := range docs {
		b, ok := l.Locate(doc)
		if !ok {
			t.Fatalf("no block in %q", doc)
		}
		if got := Reassemble(b, b.Content()); got != doc {
			t.Fatalf("round trip:\n got %q\nwant %q", got, doc)
		}
	}
}

func TestSplitMultipleBlocks(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	doc := "A {{X|n=1}}\np1\n{{X end}} B {{X|n=2}}\np2\n{{X end}} C"

	d := l.Split(doc)
	if len(d.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(d.Blocks))
	}
	if d.Blocks[1].Leading != " B " || d.Tail != " C" {
		t.Fatalf("Leading = %q, Tail = %q", d.Blocks[1].Leading, d.Tail)
	}
	if d.Blocks[1].Spec.Params["n"] != "2" {
		t.Fatalf("second spec = %+v", d.Blocks[1].Spec)
	}
	if d.String() != doc {
		t.Fatalf("String() = %q", d.String())
	}
	want := "A {{X|n=1}}\nnew1\n{{X end}} B {{X|n=2}}\nnew2\n{{X end}} C"
	if got := d.Render([]string{"new1", "new2"}); got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
	if got := d.Render([]string{"p1", "p2"}); got != doc {
		t.Fatalf("Render with unchanged payloads = %q", got)
	}
}

func TestSplitStopsAtSelfClosing(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	doc := "A {{X|n=1}} B {{X|n=2}} C"

	d := l.Split(doc)
	if len(d.Blocks) != 1 || !d.Blocks[0].SelfClosing {
		t.Fatalf("blocks = %+v", d.Blocks)
	}
	if d.Tail != " B {{X|n=2}} C" {
		t.Fatalf("Tail = %q", d.Tail)
	}
	if len(d.Paired()) != 0 {
		t.Fatal("expected no paired blocks")
	}
	if d.String() != doc || d.Render(nil) != doc {
		t.Fatal("self-closing document must render verbatim")
	}
}

func TestSplitNoBlocks(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "X", "X end")
	d := l.Split("plain text")
	if len(d.Blocks) != 0 || d.Tail != "plain text" {
		t.Fatalf("Split = %+v", d)
	}
}

// The start pattern also matches an end marker, so an end marker that comes
// before the first real start marker hides every block after it.
func TestStrayEndMarkerHidesLaterBlocks(t *testing.T) {
	t.Parallel()
	l := newTestLocator(t, "Wikidata list", "Wikidata list end")
	doc := "old {{Wikidata list end}} x {{Wikidata list|sparql=q}}\nbody\n{{Wikidata list end}} tail"

	if b, ok := l.Locate(doc); ok {
		t.Fatalf("expected no block, got %+v", b)
	}
	d := l.Split(doc)
	if len(d.Blocks) != 0 || d.Tail != doc {
		t.Fatalf("Split = %+v", d)
	}
	if d.String() != doc {
		t.Fatalf("String() = %q, want original", d.String())
	}
}
