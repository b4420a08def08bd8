// Agromet - Agricultural Telemetry and Decision Pipeline for Quillota
// Copyright 2026 J. Cortes (jcortesq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcortesq/agromet

package catalog

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a catalog from the compiled-in defaults, optionally
// replaced wholesale by a YAML reference file. A non-empty path must
// parse and pass referential-integrity checks or Load fails; there is
// no partial merge, a deployment overrides all reference data or none.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(DefaultData())
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog file %s: %w", path, err)
	}

	data := &Data{}
	if err := k.Unmarshal("", data); err != nil {
		return nil, fmt.Errorf("unmarshal catalog file %s: %w", path, err)
	}

	c, err := New(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}
