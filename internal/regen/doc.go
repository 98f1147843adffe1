// Package regen is the per-job pipeline: fetch a document, regenerate the
// content of its generation blocks and publish it back.
package regen
