package catalog

import (
	"strings"

	"songstream/catalogservice/internal/domain"
)

// DedupeRecords collapses raw records into a unique set, first occurrence
// wins. Identity is "<id>_<lowercased title>" when an id is present, else the
// lowercased title alone; records with neither are dropped. Including the id
// keeps distinct songs with identical titles apart, at the cost of letting
// near-duplicates with different ids through.
func DedupeRecords(records []domain.RawRecord) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		key := recordKey(record)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, record)
	}
	return out
}

func recordKey(record domain.RawRecord) string {
	id := strings.TrimSpace(stringField(record, "id"))
	title := strings.ToLower(strings.TrimSpace(stringField(record, "song", "title")))
	switch {
	case id != "" && title != "":
		return id + "_" + title
	case id != "":
		return id + "_"
	case title != "":
		return title
	default:
		return ""
	}
}
