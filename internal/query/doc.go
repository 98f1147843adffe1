// Package query turns a block specification into a result table.
package query
