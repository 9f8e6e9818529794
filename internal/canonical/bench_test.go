package canonical

import (
	"testing"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
)

func benchEntry() *model.LogEntry {
	return &model.LogEntry{
		Sequence:   123456,
		EntryID:    "2f1c9a44-1b7e-4c93-b7a1-aa41f2c1d9ee",
		OccurredAt: time.Unix(0, 1700000000000000000),
		RecordedAt: time.Unix(0, 1700000000100000000),
		ActorID:    "user-1",
		EventType:  "scan",
		Resource:   model.StringPtr("scan"),
		ResourceID: model.StringPtr("scan-991"),
		Outcome:    model.StringPtr("success"),
		Metadata: map[string]any{
			"targets":  []any{"10.0.0.1", "10.0.0.2"},
			"duration": 41.5,
			"rules":    map[string]any{"enabled": 120, "skipped": 3},
		},
		PrevHash: model.GenesisHash,
	}
}

func BenchmarkEncode(b *testing.B) {
	e := benchEntry()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(e); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEntryHash(b *testing.B) {
	e := benchEntry()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := EntryHash(e); err != nil {
			b.Fatal(err)
		}
	}
}
