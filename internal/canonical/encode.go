// Package canonical produces the deterministic byte form of a log entry
// that chain hashing depends on. Two entries with identical logical
// content always encode to identical bytes, regardless of map insertion
// order, numeric formatting, or platform. Strings are length-prefixed
// rather than delimited so field boundaries cannot be forged by crafted
// content.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/ppiankov/trustlog/internal/model"
)

// maxDepth bounds metadata nesting. Deeper payloads are rejected rather
// than risking stack exhaustion on attacker-supplied structures.
const maxDepth = 32

// Type tags for metadata values. One byte each, disjoint from the
// optional-field markers below.
const (
	tagNull   = 'z'
	tagBool   = 'b'
	tagNumber = 'n'
	tagString = 's'
	tagArray  = 'a'
	tagObject = 'o'
)

// Optional-field markers. An absent field encodes differently from an
// empty value so the two cannot collide in the hash.
const (
	markAbsent  = 0x00
	markPresent = 0x01
)

// Encode serializes every logical field of e except IntegrityHash into
// a deterministic byte buffer: sequence, entry id, timestamps (UTC
// nanoseconds), actor, event type, the optional fields, metadata, and
// prev_hash, in that fixed order. It is a pure function; the only
// failure mode is non-canonicalizable metadata.
func Encode(e *model.LogEntry) ([]byte, error) {
	var buf bytes.Buffer

	writeInt64(&buf, e.Sequence)
	writeString(&buf, e.EntryID)
	writeInt64(&buf, unixNanos(e.OccurredAt))
	writeInt64(&buf, unixNanos(e.RecordedAt))
	writeString(&buf, e.ActorID)
	writeString(&buf, e.EventType)
	writeOptional(&buf, e.Resource)
	writeOptional(&buf, e.ResourceID)
	writeOptional(&buf, e.Outcome)
	writeOptional(&buf, e.IPAddress)
	writeOptional(&buf, e.UserAgent)

	if e.Metadata == nil {
		buf.WriteByte(markAbsent)
	} else {
		buf.WriteByte(markPresent)
		if err := writeValue(&buf, e.Metadata, 0); err != nil {
			return nil, err
		}
	}

	writeString(&buf, e.PrevHash)
	return buf.Bytes(), nil
}

// Hash returns "sha256:<hex>" of the given bytes.
func Hash(b []byte) string {
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}

// EntryHash encodes e and hashes the result in one step.
func EntryHash(e *model.LogEntry) (string, error) {
	b, err := Encode(e)
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

func writeOptional(buf *bytes.Buffer, s *string) {
	if s == nil {
		buf.WriteByte(markAbsent)
		return
	}
	buf.WriteByte(markPresent)
	writeString(buf, *s)
}

// writeValue serializes one metadata value with a leading type tag.
// Object keys are sorted bytewise so logical maps encode identically
// whatever their insertion order.
func writeValue(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxDepth {
		return model.Validationf("metadata", "nesting exceeds %d levels", maxDepth)
	}

	switch val := v.(type) {
	case nil:
		buf.WriteByte(tagNull)
	case bool:
		buf.WriteByte(tagBool)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case string:
		buf.WriteByte(tagString)
		writeString(buf, val)
	case float64:
		return writeNumber(buf, val)
	case float32:
		return writeNumber(buf, float64(val))
	case int:
		return writeNumber(buf, float64(val))
	case int32:
		return writeNumber(buf, float64(val))
	case int64:
		return writeNumber(buf, float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return model.Validationf("metadata", "unparseable number %q", val.String())
		}
		return writeNumber(buf, f)
	case []any:
		buf.WriteByte(tagArray)
		buf.Write(binary.AppendUvarint(nil, uint64(len(val))))
		for _, elem := range val {
			if err := writeValue(buf, elem, depth+1); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(tagObject)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.Write(binary.AppendUvarint(nil, uint64(len(keys))))
		for _, k := range keys {
			writeString(buf, k)
			if err := writeValue(buf, val[k], depth+1); err != nil {
				return err
			}
		}
	default:
		return model.Validationf("metadata", "unsupported value type %T", v)
	}
	return nil
}

// writeNumber emits the single canonical textual form of a number.
// Integral values within float64's exact range render as plain decimals
// so 2, 2.0 and json.Number("2") all encode identically.
func writeNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return model.Validationf("metadata", "non-finite number")
	}
	buf.WriteByte(tagNumber)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		writeString(buf, strconv.FormatInt(int64(f), 10))
		return nil
	}
	writeString(buf, strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
