package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mimi/pkg/types"
)

// maxDecodeDepth bounds how many layers of JSON-in-a-string are unwrapped.
const maxDecodeDepth = 4

// maxTime caps note times so float-to-int conversion stays defined.
const maxTime = math.MaxInt32

// nowMillis returns the current epoch milliseconds. Tests replace it.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// NewID returns a fresh note id: a time-ordered UUIDv7, or a random UUIDv4
// if the v7 generator fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NormalizeVideo coerces any stored value into a VideoRecord. It returns nil
// for nil, JSON null and strings that do not parse as JSON. Values that are
// not objects yield an empty record. It never panics and never fails.
func NormalizeVideo(raw any) *types.VideoRecord {
	v, ok := decodeValue(raw)
	if !ok {
		return nil
	}

	rec := &types.VideoRecord{Notes: []types.Note{}}
	obj, ok := v.(map[string]any)
	if !ok {
		return rec
	}

	if title, ok := obj["title"].(string); ok {
		rec.Title = title
	}
	if list, ok := obj["notes"].([]any); ok {
		for _, item := range list {
			if n, ok := normalizeNote(item); ok {
				rec.Notes = append(rec.Notes, n)
			}
		}
	}
	return rec
}

// NormalizePosition coerces a stored panel position. Missing or
// non-numeric coordinates fall back to DefaultPosition.
func NormalizePosition(raw any) types.Position {
	pos := types.DefaultPosition
	v, ok := decodeValue(raw)
	if !ok {
		return pos
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return pos
	}
	if x, ok := toNumber(obj["x"]); ok {
		pos.X = x
	}
	if y, ok := toNumber(obj["y"]); ok {
		pos.Y = y
	}
	return pos
}

// normalizeNote coerces one element of a notes array. Elements that are not
// objects are dropped.
func normalizeNote(v any) (types.Note, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return types.Note{}, false
	}

	n := types.Note{
		ID:      toString(obj["id"]),
		Text:    toString(obj["text"]),
		VideoID: toString(obj["videoId"]),
	}
	if n.ID == "" {
		n.ID = NewID()
	}

	if ms, ok := toNumber(obj["createdAt"]); ok {
		n.CreatedAt = int64(math.Floor(ms))
	} else {
		n.CreatedAt = nowMillis()
	}

	if sec, ok := toNumber(obj["time"]); ok {
		n.Time = clampTime(sec)
	}
	return n, true
}

func clampTime(sec float64) int {
	sec = math.Floor(sec)
	switch {
	case sec < 0:
		return 0
	case sec > maxTime:
		return maxTime
	}
	return int(sec)
}

// decodeValue turns raw into a generic JSON value. Byte and string inputs
// are parsed; anything else is marshaled first, so Go maps, typed slices
// and every numeric type come back as the same json.Number shapes. A parse
// that yields a string is parsed again, which unwraps records stored as
// JSON-encoded strings.
func decodeValue(raw any) (any, bool) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, false
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		data = b
	}

	for depth := 0; depth < maxDecodeDepth; depth++ {
		var out any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, false
		}
		if dec.More() {
			return nil, false
		}
		s, ok := out.(string)
		if !ok {
			return out, out != nil
		}
		data = []byte(s)
	}
	return nil, false
}

// toNumber reports v as a finite float. Numeric strings are accepted.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		f = reflect.ValueOf(n).Convert(reflect.TypeOf(f)).Float()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toString coerces scalars to their text form. Objects, arrays and nil
// become "".
func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil, map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
