package catalog

import (
	"testing"

	"songstream/catalogservice/internal/domain"
)

func TestDedupeRecordsFirstWins(t *testing.T) {
	records := []domain.RawRecord{
		{"id": "a1", "song": "Tum Hi Ho", "source": "api"},
		{"id": "a1", "song": "tum hi ho", "source": "web"},
		{"id": "b2", "song": "Tum Hi Ho"},
	}
	out := DedupeRecords(records)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique records, got %d", len(out))
	}
	if out[0]["source"] != "api" {
		t.Fatalf("first occurrence must win, got %+v", out[0])
	}
	if out[1]["id"] != "b2" {
		t.Fatalf("same title with different id must survive, got %+v", out[1])
	}
}

func TestDedupeRecordsTitleOnly(t *testing.T) {
	records := []domain.RawRecord{
		{"song": "No ID Song"},
		{"song": "  no id song  "},
		{"song": "Another"},
	}
	out := DedupeRecords(records)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
}

func TestDedupeRecordsDropsAnonymous(t *testing.T) {
	records := []domain.RawRecord{
		{"year": "2020"},
		{},
		{"id": "x", "song": "Kept"},
	}
	out := DedupeRecords(records)
	if len(out) != 1 || out[0]["id"] != "x" {
		t.Fatalf("records with neither id nor title must be dropped, got %+v", out)
	}
}

func TestDedupeRecordsEmpty(t *testing.T) {
	if out := DedupeRecords(nil); len(out) != 0 {
		t.Fatalf("expected empty output, got %+v", out)
	}
}
