package semantic

import "github.com/samber/lo"

// SelectLogs trims a narrative to at most limit entries for prompt budgets.
// Flagged entries are never dropped while room remains; the unflagged
// remainder is sampled evenly so the surviving log still spans the whole
// session. Chronological order is preserved.
func SelectLogs(logs []LogEntry, limit int) []LogEntry {
	if limit <= 0 || len(logs) <= limit {
		return logs
	}

	flagged := lo.Filter(logs, func(e LogEntry, _ int) bool { return len(e.Flags) > 0 })
	if len(flagged) >= limit {
		return sampleEvenly(flagged, limit)
	}

	keep := make([]bool, len(logs))
	for i, e := range logs {
		if len(e.Flags) > 0 {
			keep[i] = true
		}
	}

	// Spread the remaining budget across the unflagged entries.
	budget := limit - len(flagged)
	unflagged := make([]int, 0, len(logs)-len(flagged))
	for i := range logs {
		if !keep[i] {
			unflagged = append(unflagged, i)
		}
	}
	for _, i := range sampleIndexes(len(unflagged), budget) {
		keep[unflagged[i]] = true
	}

	out := make([]LogEntry, 0, limit)
	for i, e := range logs {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}

func sampleEvenly(logs []LogEntry, limit int) []LogEntry {
	out := make([]LogEntry, 0, limit)
	for _, i := range sampleIndexes(len(logs), limit) {
		out = append(out, logs[i])
	}
	return out
}

// sampleIndexes picks count evenly spaced indexes from [0, n).
func sampleIndexes(n, count int) []int {
	if count >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if count <= 0 {
		return nil
	}
	out := make([]int, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, i*n/count)
	}
	return out
}
