package block

import "strings"

// Block is one located generation block. The five text spans are verbatim
// slices of the source document: Leading + StartMarker + Payload + EndMarker +
// Trailing reproduces it exactly.
type Block struct {
	Leading     string
	StartMarker string
	Payload     string
	EndMarker   string
	Trailing    string

	Spec Specification

	// SelfClosing is set when no end marker follows the start marker. Payload
	// and EndMarker are empty and output is published out-of-band.
	SelfClosing bool
}

// String reconstructs the source text covered by the block.
func (b *Block) String() string {
	var sb strings.Builder
	sb.Grow(len(b.Leading) + len(b.StartMarker) + len(b.Payload) + len(b.EndMarker) + len(b.Trailing))
	sb.WriteString(b.Leading)
	sb.WriteString(b.StartMarker)
	sb.WriteString(b.Payload)
	sb.WriteString(b.EndMarker)
	sb.WriteString(b.Trailing)
	return sb.String()
}

// Content returns the payload without the single newline Reassemble pads on
// each side. A payload lacking either newline is returned unchanged.
func (b *Block) Content() string {
	p := b.Payload
	if len(p) >= 2 && p[0] == '\n' && p[len(p)-1] == '\n' {
		return p[1 : len(p)-1]
	}
	return p
}

// Reassemble splices payload into the block. Paired blocks produce
// Leading + StartMarker + "\n" + payload + "\n" + EndMarker + Trailing.
// Self-closing blocks produce Leading only: their output lives elsewhere.
func Reassemble(b *Block, payload string) string {
	if b.SelfClosing {
		return b.Leading
	}
	var sb strings.Builder
	sb.Grow(len(b.Leading) + len(b.StartMarker) + len(payload) + len(b.EndMarker) + len(b.Trailing) + 2)
	sb.WriteString(b.Leading)
	sb.WriteString(b.StartMarker)
	sb.WriteByte('\n')
	sb.WriteString(payload)
	sb.WriteByte('\n')
	sb.WriteString(b.EndMarker)
	sb.WriteString(b.Trailing)
	return sb.String()
}

// Document is a document split into consecutive blocks.
type Document struct {
	Blocks []*Block
	Tail   string
}

// String reconstructs the source document.
func (d *Document) String() string {
	var sb strings.Builder
	for _, b := range d.Blocks {
		sb.WriteString(b.String())
	}
	sb.WriteString(d.Tail)
	return sb.String()
}

// Paired returns the blocks that have an end marker.
func (d *Document) Paired() []*Block {
	out := make([]*Block, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		if !b.SelfClosing {
			out = append(out, b)
		}
	}
	return out
}

// Render rebuilds the document with payloads[i] spliced into the i-th block.
// Self-closing blocks, and blocks without a payload entry, are kept verbatim.
func (d *Document) Render(payloads []string) string {
	var sb strings.Builder
	for i, b := range d.Blocks {
		if b.SelfClosing || i >= len(payloads) {
			sb.WriteString(b.String())
			continue
		}
		sb.WriteString(Reassemble(b, payloads[i]))
	}
	sb.WriteString(d.Tail)
	return sb.String()
}
