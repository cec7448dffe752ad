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
	"os"
	"strconv"
	"strings"
	"sync"

	gcppropagator "github.com/GoogleCloudPlatform/opentelemetry-operations-go/propagator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const envDisablePropagatorAutoset = "PLACK_DISABLE_PROPAGATOR_AUTOSET"

var installPropagatorOnce sync.Once

// EnsurePropagation installs a composite global text map propagator that
// reads Google Cloud's X-Cloud-Trace-Context header on ingress and otherwise
// speaks W3C Trace Context and Baggage. It runs at most once per process and
// is skipped when PLACK_DISABLE_PROPAGATOR_AUTOSET is true. [New] and the
// HTTP and gRPC middleware call it; applications may still replace the
// propagator afterwards with otel.SetTextMapPropagator.
func EnsurePropagation() {
	installPropagatorOnce.Do(func() {
		if propagatorAutosetDisabled() {
			return
		}
		otel.SetTextMapPropagator(Propagator())
	})
}

// Propagator returns the composite propagator EnsurePropagation installs.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		gcppropagator.CloudTraceOneWayPropagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func propagatorAutosetDisabled() bool {
	raw := strings.TrimSpace(os.Getenv(envDisablePropagatorAutoset))
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	return err == nil && b
}
