package block

// MatchBraces scans buf for the point where a self-nesting {...} construct
// closes. depth is the number of opens already consumed by the caller (2 for a
// template whose "{{" precedes buf). Every '{' adds one, every '}' removes one.
//
// It returns the offset just after the byte that brings depth to 0, or
// ok=false when buf ends first.
func MatchBraces(buf string, depth int) (end int, ok bool) {
	if depth <= 0 {
		return 0, true
	}
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
