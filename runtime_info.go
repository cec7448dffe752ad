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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"

	"github.com/pjscruggs/plack/internal/manifest"
)

// ErrServiceContext reports that no service name could be discovered.
var ErrServiceContext = errors.New("cannot determine service context name")

// defaultVersion is reported when no version is configured.
const defaultVersion = "latest"

// RuntimeInfo describes the Google Cloud runtime the process appears to run
// on, as far as environment variables tell.
type RuntimeInfo struct {
	ProjectID string
	Service   string
	Version   string
	Labels    map[string]string
}

var (
	runtimeInfo     RuntimeInfo
	runtimeInfoOnce sync.Once
)

// DetectRuntimeInfo inspects the environment variables set by Cloud Run,
// Cloud Functions and App Engine. The result is cached.
func DetectRuntimeInfo() RuntimeInfo {
	runtimeInfoOnce.Do(func() {
		runtimeInfo = detectRuntimeInfo(os.Getenv)
	})
	return runtimeInfo
}

func detectRuntimeInfo(getenv func(string) string) RuntimeInfo {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	info := RuntimeInfo{
		ProjectID: normalizeProjectID(firstNonEmpty(
			env(envProjectID),
			env("GOOGLE_CLOUD_PROJECT"),
			env("GCLOUD_PROJECT"),
			env("GCP_PROJECT"),
		)),
	}
	region := firstNonEmpty(env("FUNCTION_REGION"), env("CLOUD_RUN_REGION"), env("GOOGLE_CLOUD_REGION"))

	switch {
	case env("K_SERVICE") != "" && env("FUNCTION_TARGET") != "":
		info.Service, info.Version = env("K_SERVICE"), env("K_REVISION")
		info.Labels = compactLabels(map[string]string{
			"cloud_function.name":   info.Service,
			"cloud_function.target": env("FUNCTION_TARGET"),
			"cloud_function.region": region,
		})
	case env("K_SERVICE") != "":
		info.Service, info.Version = env("K_SERVICE"), env("K_REVISION")
		info.Labels = compactLabels(map[string]string{
			"cloud_run.service":       info.Service,
			"cloud_run.revision":      info.Version,
			"cloud_run.configuration": env("K_CONFIGURATION"),
			"cloud_run.region":        region,
		})
	case env("CLOUD_RUN_JOB") != "":
		info.Service, info.Version = env("CLOUD_RUN_JOB"), env("CLOUD_RUN_EXECUTION")
		info.Labels = compactLabels(map[string]string{
			"cloud_run.job":          info.Service,
			"cloud_run.execution":    info.Version,
			"cloud_run.task_index":   env("CLOUD_RUN_TASK_INDEX"),
			"cloud_run.task_attempt": env("CLOUD_RUN_TASK_ATTEMPT"),
			"cloud_run.region":       region,
		})
	case env("GAE_SERVICE") != "" || env("GAE_VERSION") != "":
		info.Service, info.Version = env("GAE_SERVICE"), env("GAE_VERSION")
		info.Labels = compactLabels(map[string]string{
			"appengine.service":  info.Service,
			"appengine.version":  info.Version,
			"appengine.instance": env("GAE_INSTANCE"),
		})
		if info.ProjectID == "" {
			info.ProjectID = normalizeProjectID(env("GAE_APPLICATION"))
		}
	}
	return info
}

// DefaultServiceContext returns the service context used when none is
// configured. The service name is service when non-empty, else the
// runtime's service (K_SERVICE, CLOUD_RUN_JOB, GAE_SERVICE), else the name
// declared by go.mod, app.yaml or package.json in the working directory.
// The version comes from VERSION, else the runtime's revision, else
// "latest". Failure to find a name returns an error wrapping
// [ErrServiceContext].
func DefaultServiceContext(service string) (ServiceContext, error) {
	dir, err := os.Getwd()
	if err != nil {
		return ServiceContext{}, fmt.Errorf("%w: %w", ErrServiceContext, err)
	}
	return discoverServiceContext(service, os.Getenv, dir)
}

func discoverServiceContext(service string, getenv func(string) string, dir string) (ServiceContext, error) {
	info := detectRuntimeInfo(getenv)

	sc := ServiceContext{
		Service: strings.TrimSpace(service),
		Version: firstNonEmpty(getenv(envVersion), info.Version, defaultVersion),
	}
	if sc.Service == "" {
		sc.Service = info.Service
	}
	if sc.Service == "" {
		name, _, err := manifest.ServiceName(dir)
		if err != nil {
			return ServiceContext{}, fmt.Errorf("%w: %w", ErrServiceContext, err)
		}
		sc.Service = name
	}
	return sc, nil
}

// metadataProjectID asks the GCE metadata server for the project ID.
var metadataProjectID = func(ctx context.Context) (string, error) {
	if !metadata.OnGCE() {
		return "", nil
	}
	return metadata.ProjectIDWithContext(ctx)
}

// metadataTimeout bounds the metadata server lookup.
const metadataTimeout = 2 * time.Second

// ResolveProjectID returns the Google Cloud project used to format trace
// resources: PLACK_PROJECT_ID or GOOGLE_CLOUD_PROJECT (and the runtime's
// other project variables), else the metadata server when running on
// Google Cloud. It returns "" when nothing is known.
func ResolveProjectID(ctx context.Context) string {
	if id := DetectRuntimeInfo().ProjectID; id != "" {
		return id
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	id, err := metadataProjectID(ctx)
	if err != nil {
		return ""
	}
	return normalizeProjectID(id)
}

// projectResolver resolves the project ID once, on first use.
type projectResolver struct {
	once sync.Once
	id   string
}

func newProjectResolver(id string) *projectResolver {
	r := &projectResolver{id: normalizeProjectID(id)}
	if r.id != "" {
		r.once.Do(func() {})
	}
	return r
}

func (r *projectResolver) projectID() string {
	r.once.Do(func() {
		r.id = ResolveProjectID(context.Background())
	})
	return r.id
}

func compactLabels(labels map[string]string) map[string]string {
	for k, v := range labels {
		if v == "" {
			delete(labels, k)
		}
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// normalizeProjectID strips a "projects/" prefix and the leading
// underscore App Engine puts on GAE_APPLICATION ("s~" region prefixes
// included).
func normalizeProjectID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "projects/")
	if i := strings.IndexByte(id, '~'); i >= 0 {
		id = id[i+1:]
	}
	return strings.TrimPrefix(id, "_")
}
