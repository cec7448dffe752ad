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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mapEnv(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// TestDetectRuntimeInfo covers each supported runtime.
func TestDetectRuntimeInfo(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  map[string]string
		want RuntimeInfo
	}{
		{
			name: "cloud run service",
			env: map[string]string{
				"K_SERVICE":            "api",
				"K_REVISION":           "api-00042",
				"K_CONFIGURATION":      "api",
				"GOOGLE_CLOUD_PROJECT": "proj-1",
			},
			want: RuntimeInfo{
				ProjectID: "proj-1",
				Service:   "api",
				Version:   "api-00042",
				Labels: map[string]string{
					"cloud_run.service":       "api",
					"cloud_run.revision":      "api-00042",
					"cloud_run.configuration": "api",
				},
			},
		},
		{
			name: "cloud function",
			env: map[string]string{
				"K_SERVICE":       "fn",
				"FUNCTION_TARGET": "Handle",
				"FUNCTION_REGION": "us-central1",
			},
			want: RuntimeInfo{
				Service: "fn",
				Labels: map[string]string{
					"cloud_function.name":   "fn",
					"cloud_function.target": "Handle",
					"cloud_function.region": "us-central1",
				},
			},
		},
		{
			name: "cloud run job",
			env: map[string]string{
				"CLOUD_RUN_JOB":        "nightly",
				"CLOUD_RUN_EXECUTION":  "nightly-abc",
				"CLOUD_RUN_TASK_INDEX": "3",
			},
			want: RuntimeInfo{
				Service: "nightly",
				Version: "nightly-abc",
				Labels: map[string]string{
					"cloud_run.job":        "nightly",
					"cloud_run.execution":  "nightly-abc",
					"cloud_run.task_index": "3",
				},
			},
		},
		{
			name: "app engine",
			env: map[string]string{
				"GAE_SERVICE":     "default",
				"GAE_VERSION":     "20250102t030405",
				"GAE_APPLICATION": "s~my-app",
			},
			want: RuntimeInfo{
				ProjectID: "my-app",
				Service:   "default",
				Version:   "20250102t030405",
				Labels: map[string]string{
					"appengine.service": "default",
					"appengine.version": "20250102t030405",
				},
			},
		},
		{
			name: "explicit project wins",
			env: map[string]string{
				"PLACK_PROJECT_ID":     "projects/explicit",
				"GOOGLE_CLOUD_PROJECT": "ambient",
			},
			want: RuntimeInfo{ProjectID: "explicit"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := detectRuntimeInfo(mapEnv(tc.env))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("detectRuntimeInfo() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDiscoverServiceContext covers the name and version sources.
func TestDiscoverServiceContext(t *testing.T) {
	t.Parallel()

	modDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(modDir, "go.mod"), []byte("module example.com/acme/billing/v2\n\ngo 1.25\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() returned %v", err)
	}
	emptyDir := t.TempDir()

	cases := []struct {
		name    string
		service string
		env     map[string]string
		dir     string
		want    ServiceContext
	}{
		{name: "manifest", dir: modDir, want: ServiceContext{Service: "billing", Version: "latest"}},
		{name: "explicit", service: "api", env: map[string]string{"VERSION": "1.2.3"}, dir: emptyDir, want: ServiceContext{Service: "api", Version: "1.2.3"}},
		{name: "runtime", env: map[string]string{"K_SERVICE": "run", "K_REVISION": "run-7"}, dir: emptyDir, want: ServiceContext{Service: "run", Version: "run-7"}},
		{name: "version wins over revision", env: map[string]string{"K_SERVICE": "run", "K_REVISION": "run-7", "VERSION": "v9"}, dir: modDir, want: ServiceContext{Service: "run", Version: "v9"}},
	}
	for _, tc := range cases {
		got, err := discoverServiceContext(tc.service, mapEnv(tc.env), tc.dir)
		if err != nil {
			t.Errorf("%s: discoverServiceContext() returned %v, want nil", tc.name, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", tc.name, diff)
		}
	}

	_, err := discoverServiceContext("", mapEnv(nil), emptyDir)
	if !errors.Is(err, ErrServiceContext) {
		t.Fatalf("discoverServiceContext() without a name = %v, want ErrServiceContext", err)
	}
}

// TestProjectResolver verifies explicit IDs skip the metadata lookup.
func TestProjectResolver(t *testing.T) {
	t.Parallel()

	r := newProjectResolver(" projects/explicit ")
	if got := r.projectID(); got != "explicit" {
		t.Fatalf("projectID() = %q, want explicit", got)
	}
}

// TestResolveProjectIDUsesMetadata stubs the metadata server lookup.
func TestResolveProjectIDUsesMetadata(t *testing.T) {
	original := metadataProjectID
	metadataProjectID = func(context.Context) (string, error) { return "from-metadata", nil }
	t.Cleanup(func() { metadataProjectID = original })

	if DetectRuntimeInfo().ProjectID != "" {
		t.Skip("project configured in the environment")
	}
	if got := ResolveProjectID(context.Background()); got != "from-metadata" {
		t.Fatalf("ResolveProjectID() = %q, want from-metadata", got)
	}
}

// TestNormalizeProjectID strips resource and App Engine prefixes.
func TestNormalizeProjectID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"proj":            "proj",
		" projects/proj ": "proj",
		"s~proj":          "proj",
		"e~proj":          "proj",
		"_proj":           "proj",
		"":                "",
	}
	for in, want := range cases {
		if got := normalizeProjectID(in); got != want {
			t.Errorf("normalizeProjectID(%q) = %q, want %q", in, got, want)
		}
	}
}
