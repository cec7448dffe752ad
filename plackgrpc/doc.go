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

// Package plackgrpc provides gRPC server interceptors that attach a
// request-scoped plack.Logger, correlated with Cloud Trace, to every RPC and
// log each completed call with its status code.
//
//	server := grpc.NewServer(plackgrpc.ServerOptions(logger)...)
//
// Handlers retrieve the logger with [Logger]. Failed calls are logged with
// the error as the object of the record, so the record carries the error's
// type, its stack and its gRPC code.
package plackgrpc
