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

// Package plack writes structured logs as newline-delimited JSON in the
// format Google Cloud Logging and Error Reporting understand. Every log call
// produces exactly one line whose fields always appear in the same order:
//
//	{"severity":"ERROR","time":"...","message":"...",<bindings>,"type":"...","stack":"...",<fields>}
//
// Ranks are numeric ([Level]) and independent of the severity names Cloud
// Logging displays. A [SeverityTable] maps each registered rank to a
// precomputed `{"severity":"NAME"` fragment; [New] registers notice,
// alert and emergency on top of trace, debug, info, warn, error and fatal.
//
// Errors get special treatment. An error logged on its own has its stack as
// the message, which is what Error Reporting groups on, and the record
// carries the service context. An error logged with a message keeps the
// message and moves the stack into a "stack" field. Stacks recorded by
// github.com/pkg/errors are used when present.
//
// # Quick Start
//
//	logger, err := plack.New(plack.WithServiceName("api"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.Info("listening on %s", addr)
//	logger.Error(plack.F("user", id), err)
//
// [Logger.Handler] adapts a Logger to log/slog, and the plackhttp and
// plackgrpc packages provide request-scoped loggers with Cloud Trace
// correlation.
//
// # Configuration
//
// Functional options configure the logger in code. The environment
// variables PLACK_LEVEL, PLACK_TARGET (stdout, stderr or file:<path>),
// PLACK_TIME (rfc3339, epoch or none), PLACK_CLOUD_SEVERITIES and
// PLACK_PROJECT_ID are read first, so options take precedence. VERSION sets
// the service version reported to Error Reporting.
package plack
