// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package all registers all the fusion passes.
//
// Just import it with:
//
//	import _ "github.com/gomlx/fusion/pkg/passes/all"
package all

import (
	_ "github.com/gomlx/fusion/pkg/passes/extremumgrad"
	_ "github.com/gomlx/fusion/pkg/passes/squareddiff"
)
