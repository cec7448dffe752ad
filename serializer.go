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
	"fmt"
	"maps"
)

// recordEnd closes every record. No version or trailing fields follow.
const recordEnd = "}\n"

// Fragments carries the per-call pieces supplied by the engine: the
// timestamp fragment and the child bindings fragment. Both are spliced into
// the record verbatim and must either be empty or start with a comma.
type Fragments struct {
	// Time is the timestamp fragment, for example `,"time":"2025-01-02T03:04:05Z"`.
	Time string
	// Bindings holds the serialized fields of the logger chain, for example
	// `,"service":"api","requestId":"r1"`.
	Bindings string
}

// SerializerConfig configures a [Serializer]. Zero fields take defaults.
type SerializerConfig struct {
	// ServiceContext is attached to error records that warrant Error
	// Reporting metadata. Nil disables the serviceContext field.
	ServiceContext *ServiceContext
	// Stringify renders field values. Defaults to [Stringify].
	Stringify StringifyFunc
	// Stack renders the stack text of errors. Defaults to [ErrorStack].
	Stack StackFunc
	// FieldSerializers run on named fields before Stringify. They are merged
	// over the defaults, which drop the reserved "err" key.
	FieldSerializers map[string]FieldSerializer
}

// Serializer renders one log call as one JSON line. It holds no mutable
// state; a Serializer is safe for concurrent use once its severity table is
// no longer being modified.
type Serializer struct {
	table            *SeverityTable
	serviceContext   *ServiceContext
	stringify        StringifyFunc
	stack            StackFunc
	fieldSerializers map[string]FieldSerializer
}

// NewSerializer returns a Serializer that resolves severities with table.
func NewSerializer(table *SeverityTable, cfg SerializerConfig) *Serializer {
	s := &Serializer{
		table:            table,
		stringify:        cfg.Stringify,
		stack:            cfg.Stack,
		fieldSerializers: map[string]FieldSerializer{errKey: omitField},
	}
	if cfg.ServiceContext != nil {
		sc := *cfg.ServiceContext
		s.serviceContext = &sc
	}
	if s.stringify == nil {
		s.stringify = Stringify
	}
	if s.stack == nil {
		s.stack = ErrorStack
	}
	maps.Copy(s.fieldSerializers, cfg.FieldSerializers)
	return s
}

// Table returns the severity table used by s.
func (s *Serializer) Table() *SeverityTable {
	return s.table
}

// ServiceContext returns the configured service context, if any.
func (s *Serializer) ServiceContext() (ServiceContext, bool) {
	if s.serviceContext == nil {
		return ServiceContext{}, false
	}
	return *s.serviceContext, true
}

// Serialize renders a log call at level with the optional object obj and
// the optional message msg.
//
// obj may be nil, an error, [Fields], []slog.Attr, a map with string keys,
// an slog.LogValuer that resolves to a group, or any value whose JSON
// encoding is an object. msg may be nil, a string, an error or any value,
// which is formatted with fmt.Sprint.
//
// When an error is present (obj takes precedence over msg) the record gets
// a "type" field and exactly one copy of the stack text: as the message when
// msg is the error or when no message was given, as a "stack" field
// otherwise. The only failure is [ErrUnregisteredLevel].
func (s *Serializer) Serialize(level Level, obj, msg any, frags Fragments) (string, error) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := s.appendRecord(buf, level, obj, msg, frags); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// appendRecord writes the record to buf in the fixed field order: severity,
// time, message, bindings, error metadata, object fields.
func (s *Serializer) appendRecord(buf *bytes.Buffer, level Level, obj, msg any, frags Fragments) error {
	severity, err := s.table.fragment(level)
	if err != nil {
		return err
	}

	hasObj := !isNil(obj)
	objErr, objIsError := obj.(error)
	objIsError = objIsError && hasObj
	var objExtra Fields
	if ea, ok := obj.(errorWithFields); ok {
		objErr, objIsError, objExtra = ea.err, !isNil(ea.err), ea.fields
		hasObj = objIsError || len(objExtra) > 0
	}
	msgErr, msgIsError := msg.(error)
	msgIsError = msgIsError && !isNil(msg)

	var callErr error
	switch {
	case objIsError:
		callErr = objErr
	case msgIsError:
		callErr = msgErr
	}

	msgText, hasMsgText := messageText(msg, msgIsError)
	stackAsMessage := msgIsError || (!hasMsgText && objIsError)
	if stackAsMessage {
		msgText, hasMsgText = s.stack(callErr), true
	}

	buf.WriteString(severity)
	buf.WriteString(frags.Time)
	if hasMsgText {
		buf.WriteString(`,"` + messageKey + `":`)
		writeJSONString(buf, msgText)
	}
	buf.WriteString(frags.Bindings)

	var fields Fields
	if hasObj {
		if objIsError {
			fields = mergeErrorProperties(objExtra, errorProperties(objErr))
		} else if objExtra != nil {
			fields = objExtra
		} else {
			fields = objectFields(obj, s.stringify)
		}
	}

	if callErr != nil {
		buf.WriteString(`,"` + typeKey + `":`)
		writeJSONString(buf, fmt.Sprintf("%T", callErr))
		if !stackAsMessage {
			buf.WriteString(`,"` + stackKey + `":`)
			writeJSONString(buf, s.stack(callErr))
		}
		if s.serviceContext != nil && (stackAsMessage || fields.Has(reportLocationKey)) {
			if sc, ok := s.stringify(*s.serviceContext); ok {
				buf.WriteString(`,"` + serviceContextKey + `":`)
				buf.WriteString(sc)
			}
		}
		if !objIsError {
			fields = mergeErrorProperties(fields, errorProperties(callErr))
		}
	}

	if hasObj {
		for _, a := range fields {
			if a.Key == "" {
				continue
			}
			s.appendField(buf, a.Key, a.Value.Resolve().Any())
		}
	}

	buf.WriteString(recordEnd)
	return nil
}

// appendField writes `,"key":value`, applying the key's field serializer
// first. Fields whose value cannot be stringified are dropped.
func (s *Serializer) appendField(buf *bytes.Buffer, key string, v any) {
	if fs, ok := s.fieldSerializers[key]; ok {
		if v, ok = fs(v); !ok {
			return
		}
	}
	out, ok := s.stringify(v)
	if !ok {
		return
	}
	buf.WriteByte(',')
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(out)
}

// Bindings serializes obj into a child bindings fragment using the same
// enumeration and field rules as record objects. Errors contribute their
// properties.
func (s *Serializer) Bindings(obj any) string {
	if isNil(obj) {
		return ""
	}
	var fields Fields
	if err, ok := obj.(error); ok {
		fields = errorProperties(err)
	} else {
		fields = objectFields(obj, s.stringify)
	}
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)
	for _, a := range fields {
		if a.Key == "" {
			continue
		}
		s.appendField(buf, a.Key, a.Value.Resolve().Any())
	}
	return buf.String()
}

// errorWithFields is an object carrying an error together with plain
// fields. The error is treated as the object of the call while the fields
// are written ahead of its properties. The slog adapter uses it for records
// that have a message, attributes and an "err" attribute.
type errorWithFields struct {
	err    error
	fields Fields
}

// messageText returns the text of a non-error message. Nil and empty
// strings count as absent.
func messageText(msg any, msgIsError bool) (string, bool) {
	if msgIsError || isNil(msg) {
		return "", false
	}
	var text string
	switch m := msg.(type) {
	case string:
		text = m
	case fmt.Stringer:
		text = m.String()
	default:
		text = fmt.Sprint(m)
	}
	return text, text != ""
}

// mergeErrorProperties returns the object fields followed by the error's
// properties whose keys the object does not already define. The error's
// "name" is never copied. objFields is not modified.
func mergeErrorProperties(objFields, errProps Fields) Fields {
	if len(errProps) == 0 {
		return objFields
	}
	merged := make(Fields, len(objFields), len(objFields)+len(errProps))
	copy(merged, objFields)
	for _, p := range errProps {
		if p.Key == nameKey || objFields.Has(p.Key) {
			continue
		}
		merged = append(merged, p)
	}
	return merged
}
