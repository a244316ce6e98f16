package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// EndMarkerKey is the reserved data key that requests closing the open
// interval. Only the JSON value true triggers an end.
const EndMarkerKey = "__activewatcher_end__"

// CanonicalJSON serializes data with sorted keys, compact separators and no
// HTML escaping. Two payloads with equal content produce identical bytes,
// including numbers written differently (1.5 and 1.50, 100 and 1e2).
func CanonicalJSON(data map[string]any) (string, error) {
	var norm any = map[string]any{}
	if data != nil {
		norm = NormalizeValue(data)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return "", fmt.Errorf("encode state data: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// splitEndMarker reports whether data requests an end and returns a copy of
// data without the marker key.
func splitEndMarker(data map[string]any) (bool, map[string]any) {
	end := false
	if v, ok := data[EndMarkerKey]; ok {
		b, isBool := v.(bool)
		end = isBool && b
	}

	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == EndMarkerKey {
			continue
		}
		out[k] = v
	}
	return end, out
}

// NormalizeValue rewrites every json.Number inside v to one spelling per
// value. Integer literals keep their exact digits; anything else becomes the
// shortest float64 form, so 1.0 and 1 normalize alike. Go numbers become
// json.Number too. Maps and slices are copied; other values are returned
// unchanged.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		return normalizeNumber(x)
	case float64:
		if b, err := json.Marshal(x); err == nil {
			return json.Number(b)
		}
	case int:
		return json.Number(strconv.Itoa(x))
	case int64:
		return json.Number(strconv.FormatInt(x, 10))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = NormalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = NormalizeValue(e)
		}
		return out
	}
	return v
}

func normalizeNumber(n json.Number) json.Number {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		if i, ok := new(big.Int).SetString(lit, 10); ok {
			return json.Number(i.String())
		}
		return n
	}

	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// out of float64 range
		return n
	}
	b, err := json.Marshal(f)
	if err != nil {
		return n
	}
	return json.Number(b)
}
