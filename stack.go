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
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

const maxStackFrames = 64

var stackPCPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, maxStackFrames)
		return &buf
	},
}

// StackFunc produces the stack text of an error: the text that becomes the
// record message when the stack is used as message, or the "stack" field
// otherwise.
type StackFunc func(err error) string

// pcTracer is implemented by errors that record raw program counters.
type pcTracer interface {
	StackTrace() []uintptr
}

// frameTracer is implemented by errors created with github.com/pkg/errors.
type frameTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ErrorStack is the default [StackFunc]. It renders the error message, a
// blank line and a goroutine trace in the format produced by a Go panic,
// which Cloud Error Reporting recognises. The trace comes from the error
// itself when it (or an error it wraps) records one, either as
// github.com/pkg/errors frames or as a StackTrace() []uintptr method;
// otherwise the stack of the logging call is captured.
//
// The header line names the calling goroutine, so the same call made on two
// goroutines yields different text. Use a custom StackFunc where records
// must be byte-identical across goroutines.
func ErrorStack(err error) string {
	if err == nil {
		return ""
	}
	stack := originStack(err)
	if stack == "" {
		stack, _ = CaptureStack(nil)
	}
	if stack == "" {
		return err.Error()
	}
	return err.Error() + "\n\n" + stack
}

// originStack formats the stack recorded by err, or returns "".
func originStack(err error) string {
	var ft frameTracer
	if errors.As(err, &ft) {
		frames := ft.StackTrace()
		pcs := make([]uintptr, 0, min(len(frames), maxStackFrames))
		for _, f := range frames {
			if len(pcs) == maxStackFrames {
				break
			}
			pcs = append(pcs, uintptr(f))
		}
		return formatPCsToStackString(pcs)
	}
	var pt pcTracer
	if errors.As(err, &pt) {
		pcs := pt.StackTrace()
		if len(pcs) > maxStackFrames {
			pcs = pcs[:maxStackFrames]
		}
		return formatPCsToStackString(pcs)
	}
	return ""
}

// formatPCsToStackString formats program counters into a goroutine trace
// with one "function\n\tfile:line +0xoff" pair per frame, skipping runtime
// exit frames.
func formatPCsToStackString(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}

	header := currentGoroutineHeader()

	var sb strings.Builder
	sb.Grow(len(header) + 1 + len(pcs)*64)
	sb.WriteString(header)
	sb.WriteByte('\n')

	var intBuf [20]byte
	frames := runtime.CallersFrames(pcs)
	frameCount := 0

	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if frame.Function == "runtime.goexit" || frame.Function == "" {
			if !more {
				break
			}
			continue
		}

		sb.WriteString(frame.Function)
		sb.WriteString("\n\t")
		sb.WriteString(frame.File)
		sb.WriteByte(':')
		sb.Write(strconv.AppendInt(intBuf[:0], int64(frame.Line), 10))

		if frame.Entry != 0 && frame.PC > frame.Entry {
			sb.WriteString(" +0x")
			sb.Write(strconv.AppendUint(intBuf[:0], uint64(frame.PC-frame.Entry), 16))
		}
		sb.WriteByte('\n')

		frameCount++
		if !more || frameCount >= maxStackFrames {
			break
		}
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// trimStackPCs removes leading frames that match skipFn.
func trimStackPCs(pcs []uintptr, skipFn func(string) bool) []uintptr {
	if len(pcs) == 0 {
		return pcs
	}
	frames := runtime.CallersFrames(pcs)
	skip := 0
	for {
		frame, more := frames.Next()
		if skipFn == nil || !skipFn(frame.Function) {
			break
		}
		skip++
		if !more {
			return nil
		}
	}
	return pcs[skip:]
}

// SkipInternalStackFrame reports whether a frame belongs to plack, slog or
// the runtime and should be hidden from captured traces.
func SkipInternalStackFrame(funcName string) bool {
	switch {
	case funcName == "":
		return false
	case strings.HasPrefix(funcName, "runtime."):
		return true
	case strings.HasPrefix(funcName, "github.com/pjscruggs/plack."),
		strings.HasPrefix(funcName, "github.com/pjscruggs/plack/plackhttp."),
		strings.HasPrefix(funcName, "github.com/pjscruggs/plack/plackgrpc."),
		strings.HasPrefix(funcName, "log/slog."):
		return true
	}
	return false
}

// CaptureStack captures the current goroutine stack, trimming leading
// frames with skipFn (SkipInternalStackFrame when nil). It returns the
// formatted trace and the first remaining frame, which is the natural
// reportLocation for the caller.
func CaptureStack(skipFn func(string) bool) (string, runtime.Frame) {
	bufPtr := stackPCPool.Get().(*[]uintptr)
	defer stackPCPool.Put(bufPtr)
	pcs := (*bufPtr)[:cap(*bufPtr)]

	n := runtime.Callers(1, pcs)
	if n == 0 {
		return "", runtime.Frame{}
	}
	pcs = pcs[:n]

	if skipFn == nil {
		skipFn = SkipInternalStackFrame
	}
	trimmed := trimStackPCs(pcs, skipFn)
	if len(trimmed) == 0 {
		trimmed = pcs
	}

	top, _ := runtime.CallersFrames(trimmed).Next()
	return formatPCsToStackString(trimmed), top
}

// currentGoroutineHeader returns the "goroutine N [running]:" line that
// runtime.Stack emits for the calling goroutine.
func currentGoroutineHeader() string {
	const fallbackHeader = "goroutine 0 [running]:"

	var buf [128]byte
	n := runtime.Stack(buf[:], false)
	if n <= 0 {
		return fallbackHeader
	}
	header := string(buf[:n])
	if idx := strings.IndexByte(header, '\n'); idx >= 0 {
		header = header[:idx]
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return fallbackHeader
	}
	return header
}
