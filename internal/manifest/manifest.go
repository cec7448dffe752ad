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

// Package manifest reads a service name from the project manifest found in
// a directory: go.mod, app.yaml or package.json, in that order.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"
)

// Manifest file names, in lookup order.
const (
	GoMod       = "go.mod"
	AppYAML     = "app.yaml"
	PackageJSON = "package.json"
)

// ErrNotFound is returned when dir contains none of the known manifests.
var ErrNotFound = errors.New("no go.mod, app.yaml or package.json found")

// ErrNoName is returned when a manifest exists but names nothing.
var ErrNoName = errors.New("manifest does not declare a name")

// parsers maps each manifest to the function extracting its name.
var parsers = []struct {
	file  string
	parse func([]byte) (string, error)
}{
	{GoMod, GoModName},
	{AppYAML, AppYAMLService},
	{PackageJSON, PackageJSONName},
}

// ServiceName returns the name declared by the first manifest present in
// dir, along with the manifest's file name. A manifest that exists but
// cannot be parsed stops the search.
func ServiceName(dir string) (name, source string, err error) {
	for _, p := range parsers {
		data, err := os.ReadFile(filepath.Join(dir, p.file))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", p.file, fmt.Errorf("read %s: %w", p.file, err)
		}
		name, err := p.parse(data)
		if err != nil {
			return "", p.file, fmt.Errorf("%s: %w", p.file, err)
		}
		return name, p.file, nil
	}
	return "", "", ErrNotFound
}

// GoModName returns the last element of the module path with any major
// version suffix removed: "github.com/acme/api/v2" yields "api".
func GoModName(data []byte) (string, error) {
	modPath := modfile.ModulePath(data)
	if modPath == "" {
		return "", ErrNoName
	}
	if prefix, _, ok := module.SplitPathVersion(modPath); ok && prefix != "" {
		modPath = prefix
	}
	return path.Base(modPath), nil
}

type appYAML struct {
	Service string `yaml:"service"`
}

// AppYAMLService returns the App Engine service declared in app.yaml. A
// file without a service key deploys the "default" service.
func AppYAMLService(data []byte) (string, error) {
	var cfg appYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if s := strings.TrimSpace(cfg.Service); s != "" {
		return s, nil
	}
	return "default", nil
}

type packageJSON struct {
	Name string `json:"name"`
}

// PackageJSONName returns the last segment of the "name" of a package.json,
// so a scoped "@acme/api" yields "api". Comments and trailing commas are
// tolerated.
func PackageJSONName(data []byte) (string, error) {
	var pkg packageJSON
	if err := json5.Unmarshal(data, &pkg); err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	n := strings.Trim(strings.TrimSpace(pkg.Name), "/")
	if n == "" {
		return "", ErrNoName
	}
	return path.Base(n), nil
}
