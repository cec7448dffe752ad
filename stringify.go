// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plack

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// StringifyFunc renders a value as JSON. Returning false drops the field
// that holds the value; this is how unserializable values such as
// functions are omitted.
type StringifyFunc func(v any) (string, bool)

// FieldSerializer transforms the value of one named field before it is
// stringified. Returning false drops the field.
type FieldSerializer func(v any) (any, bool)

// omitField is the serializer installed for the reserved "err" key. Errors
// are rendered by the record serializer, never as a generic field.
func omitField(any) (any, bool) { return nil, false }

var jsonBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// writeJSONString appends s to buf as a JSON string literal without HTML
// escaping.
func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1)
}

// quoteJSONString returns s as a JSON string literal.
func quoteJSONString(s string) string {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	writeJSONString(buf, s)
	out := buf.String()
	jsonBufferPool.Put(buf)
	return out
}

// Stringify is the default [StringifyFunc]. It encodes values with
// encoding/json (HTML escaping disabled) and special-cases the types that
// appear in log payloads:
//   - []slog.Attr and [Fields] become objects in attribute order;
//   - slog.Value and slog.LogValuer are resolved first;
//   - proto.Message values use protojson;
//   - errors render as their message, durations as their string form and
//     times as RFC 3339 in UTC;
//   - NaN and infinities render as null.
//
// Functions, channels, complex numbers and values that fail to encode are
// rejected.
func Stringify(v any) (string, bool) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)
	if !appendValue(buf, v) {
		return "", false
	}
	return buf.String(), true
}

// appendValue writes the JSON encoding of v to buf, reporting false when v
// cannot be represented. On failure buf may hold a partial write; callers
// rewind.
func appendValue(buf *bytes.Buffer, v any) bool {
	switch vt := v.(type) {
	case nil:
		buf.WriteString("null")
		return true
	case string:
		writeJSONString(buf, vt)
		return true
	case bool:
		buf.WriteString(strconv.FormatBool(vt))
		return true
	case int:
		buf.WriteString(strconv.Itoa(vt))
		return true
	case int64:
		buf.WriteString(strconv.FormatInt(vt, 10))
		return true
	case uint64:
		buf.WriteString(strconv.FormatUint(vt, 10))
		return true
	case float64:
		appendFloat(buf, vt)
		return true
	case time.Time:
		writeJSONString(buf, vt.UTC().Format(time.RFC3339Nano))
		return true
	case time.Duration:
		writeJSONString(buf, vt.String())
		return true
	case slog.Value:
		return appendValue(buf, vt.Resolve().Any())
	case slog.LogValuer:
		return appendValue(buf, slog.AnyValue(vt).Resolve().Any())
	case []slog.Attr:
		return appendAttrs(buf, vt)
	case Fields:
		return appendAttrs(buf, vt)
	case proto.Message:
		return appendProto(buf, vt)
	case error:
		writeJSONString(buf, vt.Error())
		return true
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	}

	start := buf.Len()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		buf.Truncate(start)
		return false
	}
	buf.Truncate(buf.Len() - 1)
	return true
}

// appendFloat writes f the way JavaScript's JSON.stringify would, mapping
// non-finite values to null.
func appendFloat(buf *bytes.Buffer, f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		buf.WriteString("null")
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// appendAttrs writes attrs as a JSON object in order. Attributes with empty
// keys or unrepresentable values are skipped.
func appendAttrs(buf *bytes.Buffer, attrs []slog.Attr) bool {
	buf.WriteByte('{')
	first := true
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		mark := buf.Len()
		if !first {
			buf.WriteByte(',')
		}
		writeJSONString(buf, a.Key)
		buf.WriteByte(':')
		if !appendValue(buf, a.Value) {
			buf.Truncate(mark)
			continue
		}
		first = false
	}
	buf.WriteByte('}')
	return true
}

// appendProto renders m with protojson. protojson output carries randomized
// whitespace, so it is compacted to keep lines byte-stable.
func appendProto(buf *bytes.Buffer, m proto.Message) bool {
	raw, err := protojson.Marshal(m)
	if err != nil {
		return false
	}
	start := buf.Len()
	if err := json.Compact(buf, raw); err != nil {
		buf.Truncate(start)
		return false
	}
	return true
}
