package core

import (
	"fmt"
	"testing"
	"time"
)

func TestActivityLogCapsOldestFirst(t *testing.T) {
	log := NewActivityLog(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		log.Append(fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Minute))
	}
	got := log.List()
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Message != "entry 3" || got[2].Message != "entry 5" {
		t.Fatalf("unexpected entries %+v", got)
	}
	got[0].Message = "mutated"
	if log.List()[0].Message != "entry 3" {
		t.Fatalf("List must return a copy")
	}
	if NewActivityLog(0).limit != DefaultActivityLimit {
		t.Fatalf("expected default limit")
	}
}
