// Package block locates generation blocks inside wiki documents.
//
// A generation block is delimited by a start template ({{Name|param=...}})
// and, in the paired form, an end template ({{Name end}}). Everything between
// the two markers is generated payload and is replaced wholesale on
// regeneration. Without an end marker the block is self-closing: its output is
// published out-of-band and nothing is spliced back into the document.
//
// The package only finds byte ranges and splits the start marker into a
// Specification; it never interprets parameter values.
package block
