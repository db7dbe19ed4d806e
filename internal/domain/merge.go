package domain

// MergeByID returns every record of local followed by the records of other
// whose ids local does not contain. Local versions win on id collisions.
func MergeByID[T Record](local, other []T) []T {
	seen := make(map[string]struct{}, len(local))
	out := make([]T, 0, len(local)+len(other))
	for _, r := range local {
		seen[r.RecordID()] = struct{}{}
		out = append(out, r)
	}
	for _, r := range other {
		if _, ok := seen[r.RecordID()]; ok {
			continue
		}
		seen[r.RecordID()] = struct{}{}
		out = append(out, r)
	}
	return out
}

// IndexByID returns the position of the record with the given id, or -1.
func IndexByID[T Record](items []T, id string) int {
	for i, r := range items {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}

// MergeCategories appends incoming categories whose names are not already
// present, compared case-insensitively. Existing entries keep their budgets.
func MergeCategories(existing, incoming []Category) []Category {
	seen := make(map[string]struct{}, len(existing))
	out := make([]Category, 0, len(existing)+len(incoming))
	for _, c := range existing {
		seen[FoldName(c.Name)] = struct{}{}
		out = append(out, c)
	}
	for _, c := range incoming {
		key := FoldName(c.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
