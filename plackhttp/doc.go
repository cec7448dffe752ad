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

// Package plackhttp provides net/http middleware that gives every request a
// plack.Logger carrying Cloud Trace correlation fields, and logs each
// completed request with a Cloud Logging httpRequest payload.
//
//	logger, err := plack.New()
//	...
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//		plackhttp.Logger(r.Context()).Info("handling request")
//	})
//	http.ListenAndServe(":8080", plackhttp.Middleware(logger)(mux))
package plackhttp
