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

package plackhttp

import (
	"strconv"
	"strings"
	"time"
)

const httpRequestKey = "httpRequest"

// HTTPRequest is the Cloud Logging [httpRequest] payload.
//
// [httpRequest]: https://cloud.google.com/logging/docs/reference/v2/rest/v2/LogEntry#HttpRequest
type HTTPRequest struct {
	RequestMethod string `json:"requestMethod,omitempty"`
	RequestURL    string `json:"requestUrl,omitempty"`
	RequestSize   int64  `json:"requestSize,omitempty,string"`
	Status        int    `json:"status,omitempty"`
	ResponseSize  int64  `json:"responseSize,omitempty,string"`
	UserAgent     string `json:"userAgent,omitempty"`
	RemoteIP      string `json:"remoteIp,omitempty"`
	Referer       string `json:"referer,omitempty"`
	Latency       string `json:"latency,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

// HTTPRequestFromScope snapshots scope as an httpRequest payload.
func HTTPRequestFromScope(scope *RequestScope) *HTTPRequest {
	if scope == nil {
		return nil
	}
	req := &HTTPRequest{
		RequestMethod: scope.method,
		RequestURL:    requestURL(scope),
		RequestSize:   max(scope.reqSize, 0),
		Status:        scope.status,
		ResponseSize:  scope.respSize,
		UserAgent:     scope.userAgent,
		RemoteIP:      scope.clientIP,
		Referer:       scope.referer,
		Protocol:      scope.protocol,
	}
	if d, ok := scope.Latency(); ok {
		req.Latency = FormatLatency(d)
	}
	return req
}

// FormatLatency renders d as a protobuf JSON duration, for example "0.25s".
func FormatLatency(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// requestURL reconstructs the request URL.
func requestURL(scope *RequestScope) string {
	var b strings.Builder
	if scope.scheme != "" && scope.host != "" {
		b.WriteString(scope.scheme)
		b.WriteString("://")
		b.WriteString(scope.host)
	}
	b.WriteString(scope.target)
	if scope.query != "" {
		b.WriteByte('?')
		b.WriteString(scope.query)
	}
	return b.String()
}
