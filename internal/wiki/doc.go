// Package wiki reads and writes pages through the MediaWiki action API.
//
// A Pool keeps one logged-in Client per collection (wiki). Edits pass the
// fetched revision timestamp so a concurrent human edit surfaces as
// ErrEditConflict instead of being overwritten.
package wiki
