package canonical

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
)

func FuzzEncodeMetadataJSON(f *testing.F) {
	f.Add([]byte(`{"a":1,"b":"two","c":[true,null]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"nested":{"deep":{"deeper":[1,2,3]}}}`))
	f.Add([]byte(`{"n":1e308}`))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var meta map[string]any
		if err := json.Unmarshal(data, &meta); err != nil {
			return
		}

		e := &model.LogEntry{
			Sequence:   1,
			OccurredAt: time.Unix(0, 1700000000000000000),
			ActorID:    "fuzz",
			EventType:  "fuzz",
			Metadata:   meta,
			PrevHash:   model.GenesisHash,
		}

		// Must not panic, and when it succeeds it must be stable.
		b1, err := Encode(e)
		if err != nil {
			return
		}
		b2, err := Encode(e)
		if err != nil {
			t.Fatalf("second encode failed after first succeeded: %v", err)
		}
		if !bytes.Equal(b1, b2) {
			t.Fatal("encoding not stable across calls")
		}
	})
}
