package usecase

import (
	"context"
	"testing"
	"time"
)

func TestReadGenerations_MissingFile(t *testing.T) {
	fs := newFakeFS()
	records, err := ReadGenerations(context.Background(), fs, "state/generations.jsonl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records for missing file, got %v", records)
	}
}

func TestAppendAndReadGenerations(t *testing.T) {
	ctx := context.Background()
	fs := newFakeFS()
	path := "state/generations.jsonl"

	rec1 := GenerationRecord{Timestamp: time.Unix(1, 0).UTC(), RevisionID: "rev1", Host: "h", User: "u"}
	rec2 := GenerationRecord{Timestamp: time.Unix(2, 0).UTC(), RevisionID: "rev2", Host: "h", User: "u"}

	if err := AppendGeneration(ctx, fs, path, rec1); err != nil {
		t.Fatalf("append rec1: %v", err)
	}
	if err := AppendGeneration(ctx, fs, path, rec2); err != nil {
		t.Fatalf("append rec2: %v", err)
	}

	records, err := ReadGenerations(ctx, fs, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].RevisionID != "rev1" || records[1].RevisionID != "rev2" {
		t.Errorf("unexpected record order: %+v", records)
	}
}

func TestNthPriorGeneration(t *testing.T) {
	records := []GenerationRecord{
		{RevisionID: "rev1"},
		{RevisionID: "rev2"},
		{RevisionID: "rev3"},
	}

	rec, ok := NthPriorGeneration(records, 1)
	if !ok || rec.RevisionID != "rev2" {
		t.Errorf("steps=1: got %+v ok=%v, want rev2", rec, ok)
	}

	rec, ok = NthPriorGeneration(records, 2)
	if !ok || rec.RevisionID != "rev1" {
		t.Errorf("steps=2: got %+v ok=%v, want rev1", rec, ok)
	}

	_, ok = NthPriorGeneration(records, 3)
	if ok {
		t.Error("steps=3: expected no prior generation to exist")
	}

	_, ok = NthPriorGeneration(records, 0)
	if ok {
		t.Error("steps=0: expected false")
	}
}
