package refresh

import (
	"sort"
	"strings"

	"techpulse/internal/domain/entity"
)

// Merge flattens per-source results in configuration order, drops records
// without a title and duplicates by dedup key (first seen wins), optionally
// moves open records ahead of the rest, and caps the result at limit records.
// A limit of zero or less means no cap.
func Merge(results [][]entity.NormalizedRecord, limit int, openFirst bool) []entity.NormalizedRecord {
	seen := make(map[string]struct{})
	var merged []entity.NormalizedRecord
	for _, batch := range results {
		for _, rec := range batch {
			if !rec.Normalize() {
				continue
			}
			if _, dup := seen[rec.DedupKey]; dup {
				continue
			}
			seen[rec.DedupKey] = struct{}{}
			merged = append(merged, rec)
		}
	}

	if openFirst {
		sort.SliceStable(merged, func(i, j int) bool {
			return isOpen(merged[i]) && !isOpen(merged[j])
		})
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func isOpen(r entity.NormalizedRecord) bool {
	return strings.EqualFold(r.Attributes["status"], "open")
}
