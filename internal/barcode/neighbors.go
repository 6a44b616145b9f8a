package barcode

import "sort"

var substitutions = []byte{'A', 'C', 'G', 'T'}

// Neighbors returns every sequence within distance substitutions of input,
// input included. Only A, C, G and T are substituted; other characters are
// left in place.
func Neighbors(input string, distance int) []string {
	toCheck := []string{input}
	seen := make(map[string]struct{}) // avoid double-counting

	for ; distance >= 0; distance-- {
		nextCheck := make([]string, 0, len(toCheck)*len(input)*(len(substitutions)-1))

		for _, cur := range toCheck {
			seen[cur] = struct{}{}
			if distance == 0 {
				continue
			}
			for i := 0; i < len(cur); i++ {
				switch c := cur[i]; c {
				case 'A', 'C', 'G', 'T':
					for _, replacement := range substitutions {
						if replacement == c {
							continue
						}
						next := cur[:i] + string(replacement) + cur[i+1:]
						if _, already := seen[next]; !already {
							nextCheck = append(nextCheck, next)
						}
					}
				default:
					// nothing
				}
			}
		}
		toCheck = nextCheck
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// Collisions returns, sorted, every sequence lying within distance
// substitutions of two or more barcodes. Reads carrying such an index can
// only ever be rejected as ambiguous.
func (t *Table) Collisions(distance int) []string {
	owner := make(map[string]int)
	var conflicts []string
	for i, c := range t.candidates {
		for _, n := range Neighbors(c.Sequence, distance) {
			prev, taken := owner[n]
			switch {
			case !taken:
				owner[n] = i + 1
			case prev > 0:
				conflicts = append(conflicts, n)
				owner[n] = -1
			}
		}
	}
	sort.Strings(conflicts)
	return conflicts
}
