package block

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoSpecification is returned when a start marker carries no name.
var ErrNoSpecification = errors.New("no specification found")

// Specification is the parsed content of a start marker: the template name and
// its parameters. Positional parameters are keyed by their 1-based ordinal.
type Specification struct {
	Name   string
	Params map[string]string
}

// ParseSpecification parses the text between a marker's "{{" and "}}".
//
// Segments are separated by '|' at brace depth 0, so values may contain nested
// templates. The first segment is the name. A segment with '=' at depth 0 is a
// named parameter (split on the first such '='); any other segment is
// positional. Names and values are trimmed. A duplicate name keeps the last
// value; "=value" is stored under the empty name.
func ParseSpecification(inner string) (Specification, error) {
	parts := splitTopLevel(inner, '|')
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Specification{}, ErrNoSpecification
	}
	spec := Specification{Name: name, Params: make(map[string]string, len(parts)-1)}
	positional := 0
	for _, part := range parts[1:] {
		if i := indexTopLevel(part, '='); i >= 0 {
			spec.Params[strings.TrimSpace(part[:i])] = strings.TrimSpace(part[i+1:])
			continue
		}
		positional++
		spec.Params[strconv.Itoa(positional)] = strings.TrimSpace(part)
	}
	return spec, nil
}

// Param returns the named parameter. Lookup falls back to a case-insensitive
// match when there is no exact key.
func (s Specification) Param(name string) (string, bool) {
	if v, ok := s.Params[name]; ok {
		return v, true
	}
	for k, v := range s.Params {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Is reports whether the specification's name is one of aliases. Case is
// ignored, and spaces and underscores are interchangeable.
func (s Specification) Is(aliases ...string) bool {
	n := normalizeName(s.Name)
	for _, a := range aliases {
		if normalizeName(a) == n {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	return append(out, s[last:])
}

func indexTopLevel(s string, c byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
