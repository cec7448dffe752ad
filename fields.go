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
	"errors"
	"log/slog"
	"reflect"
	"slices"

	"google.golang.org/grpc/status"
)

// Fields is an ordered set of structured fields. It is the canonical form
// of the object argument of a log call: keys are emitted in slice order and
// each slog.Value carries its own type.
type Fields []slog.Attr

// F builds Fields from alternating key/value pairs and slog.Attr values,
// following the argument conventions of slog.Logger.Info.
//
//	logger.Info(plack.F("user", id, "attempt", n), "login failed")
func F(args ...any) Fields {
	var r slog.Record
	r.Add(args...)
	out := make(Fields, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		out = append(out, a)
		return true
	})
	return out
}

// Get returns the value of the first field named key.
func (f Fields) Get(key string) (slog.Value, bool) {
	for _, a := range f {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}

// Has reports whether a field named key is present.
func (f Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// LogValue lets Fields be passed to slog as a group.
func (f Fields) LogValue() slog.Value {
	return slog.GroupValue(f...)
}

// isNil reports whether v is nil or a typed nil pointer, map, slice or
// interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// objectFields enumerates the fields of a non-error object argument.
// Maps are enumerated in sorted key order; other values are enumerated in
// the key order of their JSON encoding, which follows struct declaration
// order. Values that do not encode to a JSON object contribute no fields.
func objectFields(obj any, stringify StringifyFunc) Fields {
	switch v := obj.(type) {
	case Fields:
		return v
	case []slog.Attr:
		return Fields(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make(Fields, 0, len(keys))
		for _, k := range keys {
			out = append(out, slog.Any(k, v[k]))
		}
		return out
	case slog.LogValuer:
		return groupFields(slog.AnyValue(v).Resolve())
	}

	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		keys := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			keys = append(keys, iter.Key().String())
		}
		slices.Sort(keys)
		out := make(Fields, 0, len(keys))
		for _, k := range keys {
			out = append(out, slog.Any(k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()))
		}
		return out
	}

	encoded, ok := stringify(obj)
	if !ok {
		return nil
	}
	return decodeObjectFields([]byte(encoded))
}

// decodeObjectFields splits a JSON object into fields holding the raw
// encoded member values, preserving member order.
func decodeObjectFields(data []byte) Fields {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	var out Fields
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return out
		}
		key, ok := keyTok.(string)
		if !ok {
			return out
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return out
		}
		out = append(out, slog.Any(key, raw))
	}
	return out
}

// groupFields returns the attributes of a group value, or nil.
func groupFields(v slog.Value) Fields {
	if v.Kind() != slog.KindGroup {
		return nil
	}
	return slices.Clone(Fields(v.Group()))
}

// grpcStatusError matches errors that carry a gRPC status, including
// wrapped ones.
type grpcStatusError interface {
	GRPCStatus() *status.Status
}

// errorProperties returns the structured properties an error contributes
// to a record: the group produced by its LogValue method, followed by its
// gRPC status code when it carries one.
func errorProperties(err error) Fields {
	var props Fields
	if lv, ok := err.(slog.LogValuer); ok {
		props = groupFields(slog.AnyValue(lv).Resolve())
	}
	var se grpcStatusError
	if errors.As(err, &se) {
		if st := se.GRPCStatus(); st != nil && !props.Has(codeKey) {
			props = append(props, slog.String(codeKey, st.Code().String()))
		}
	}
	return props
}
