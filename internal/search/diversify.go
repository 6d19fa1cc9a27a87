package search

// DiversifyResults keeps at most maxPerDocument candidates per document in
// their current order. When that leaves fewer than limit results the
// skipped candidates are appended back in order. A non-positive
// maxPerDocument disables the cap and a non-positive limit keeps everything.
func DiversifyResults(candidates []Candidate, maxPerDocument, limit int) []Candidate {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	if maxPerDocument <= 0 {
		out := make([]Candidate, limit)
		copy(out, candidates[:limit])
		return out
	}
	out := make([]Candidate, 0, limit)
	skipped := make([]Candidate, 0)
	perDoc := make(map[string]int)
	for _, c := range candidates {
		if len(out) >= limit {
			break
		}
		if perDoc[c.DocumentID] >= maxPerDocument {
			skipped = append(skipped, c)
			continue
		}
		perDoc[c.DocumentID]++
		out = append(out, c)
	}
	for _, c := range skipped {
		if len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out
}
