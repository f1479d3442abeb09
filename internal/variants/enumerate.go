package variants

// Enumerate returns the Cartesian product of lists, one element from each list per combination,
// keeping the positions of the input lists. The last list varies fastest. Zero lists, or any empty
// list, produce no combinations.
func Enumerate[T any](lists [][]T) [][]T {
	if len(lists) == 0 {
		return nil
	}
	total := 1
	for _, list := range lists {
		if len(list) == 0 {
			return nil
		}
		total *= len(list)
	}

	out := make([][]T, 0, total)
	cursor := make([]int, len(lists))
	for {
		combination := make([]T, len(lists))
		for i, idx := range cursor {
			combination[i] = lists[i][idx]
		}
		out = append(out, combination)

		// advance the mixed-radix counter from the rightmost digit
		pos := len(cursor) - 1
		for ; pos >= 0; pos-- {
			cursor[pos]++
			if cursor[pos] < len(lists[pos]) {
				break
			}
			cursor[pos] = 0
		}
		if pos < 0 {
			return out
		}
	}
}
