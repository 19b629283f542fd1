// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"os"
	"strings"

	"github.com/gomlx/fusion/pkg/support/sets"
)

// GOMLX_FUSION is the environment variable with the default pass filter.
//
// The format is a comma-separated list of pass names: "<name>" enables only the listed passes,
// and "-<name>" disables a pass. E.g.: "-SquaredDifferenceFusionPass" runs every pass but one.
const GOMLX_FUSION = "GOMLX_FUSION"

// DefaultConfig is the pass filter used if GOMLX_FUSION is not set. See ParseFilter for its format.
var DefaultConfig string

// Filter selects which registered passes run. The zero value allows all passes.
type Filter struct {
	enabled, disabled sets.Set[string]
}

// ParseFilter parses a comma-separated list of pass names, see GOMLX_FUSION.
func ParseFilter(config string) (Filter, error) {
	f := Filter{enabled: sets.Make[string](), disabled: sets.Make[string]()}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, found := strings.CutPrefix(part, "-"); found {
			if name == "" {
				return Filter{}, paramInvalidf("invalid pass filter %q: empty pass name after \"-\"", config)
			}
			f.disabled.Insert(name)
			continue
		}
		f.enabled.Insert(part)
	}
	for name := range f.enabled {
		if f.disabled.Has(name) {
			return Filter{}, paramInvalidf("invalid pass filter %q: pass %q both enabled and disabled", config, name)
		}
	}
	return f, nil
}

// FilterFromEnv returns the filter configured by GOMLX_FUSION if set, or else by DefaultConfig.
func FilterFromEnv() (Filter, error) {
	if config, found := os.LookupEnv(GOMLX_FUSION); found {
		return ParseFilter(config)
	}
	return ParseFilter(DefaultConfig)
}

// Allows returns whether the pass name should run.
func (f Filter) Allows(name string) bool {
	if f.disabled.Has(name) {
		return false
	}
	return len(f.enabled) == 0 || f.enabled.Has(name)
}
