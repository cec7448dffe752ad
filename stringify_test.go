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

package plack_test

import (
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pjscruggs/plack"
)

// TestStringify covers the special-cased value types.
func TestStringify(t *testing.T) {
	t.Parallel()

	msg, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("structpb.NewStruct() returned %v", err)
	}

	cases := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: "null"},
		{name: "string", in: "a<b>", want: `"a<b>"`},
		{name: "nan", in: math.NaN(), want: "null"},
		{name: "inf", in: math.Inf(1), want: "null"},
		{name: "float", in: 1.5, want: "1.5"},
		{name: "time", in: time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)), want: `"2025-01-02T02:04:05Z"`},
		{name: "duration", in: 1500 * time.Millisecond, want: `"1.5s"`},
		{name: "error", in: errors.New("boom"), want: `"boom"`},
		{name: "fields", in: plack.F("b", 1, "a", 2), want: `{"b":1,"a":2}`},
		{name: "group", in: slog.GroupValue(slog.Int("x", 1)), want: `{"x":1}`},
		{name: "map", in: map[string]int{"b": 1, "a": 2}, want: `{"a":2,"b":1}`},
		{name: "proto", in: msg, want: `{"k":"v"}`},
		{name: "slice", in: []string{"x", "y"}, want: `["x","y"]`},
	}
	for _, tc := range cases {
		got, ok := plack.Stringify(tc.in)
		if !ok {
			t.Errorf("%s: Stringify() rejected the value", tc.name)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: Stringify() = %s, want %s", tc.name, got, tc.want)
		}
	}
}

// TestStringifyRejectsUnrepresentable verifies functions, channels and
// complex numbers are dropped.
func TestStringifyRejectsUnrepresentable(t *testing.T) {
	t.Parallel()

	for _, in := range []any{func() {}, make(chan int), complex(1, 2)} {
		if got, ok := plack.Stringify(in); ok {
			t.Errorf("Stringify(%T) = %s, want rejection", in, got)
		}
	}
}

// TestFieldsAccessors covers F, Get and Has.
func TestFieldsAccessors(t *testing.T) {
	t.Parallel()

	fields := plack.F("a", 1, slog.String("b", "x"), "dangling")
	if len(fields) != 3 {
		t.Fatalf("len(F()) = %d, want 3", len(fields))
	}
	if v, ok := fields.Get("b"); !ok || v.String() != "x" {
		t.Errorf("Get(b) = %v, %v", v, ok)
	}
	if !fields.Has("a") || fields.Has("missing") {
		t.Errorf("Has() reported wrong membership")
	}
	if got := fields.LogValue().Kind(); got != slog.KindGroup {
		t.Errorf("LogValue().Kind() = %v, want group", got)
	}
}
