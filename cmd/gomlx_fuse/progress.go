// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// progress reports the number of graphs fused so far. A nil *progress is valid and does nothing.
type progress struct {
	bar     *progressbar.ProgressBar
	termenv *termenv.Output
}

// newProgress returns nil if there is a single graph to fuse.
func newProgress(numGraphs int, w io.Writer) *progress {
	if numGraphs <= 1 {
		return nil
	}
	p := &progress{
		bar: progressbar.NewOptions(numGraphs,
			progressbar.OptionSetDescription("fusing"),
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("graphs"),
			progressbar.OptionShowIts(),
		),
	}
	if w == os.Stderr {
		p.termenv = termenv.NewOutput(os.Stderr)
		p.termenv.HideCursor()
	}
	return p
}

// done increments the number of graphs fused. It's safe to call concurrently.
func (p *progress) done() {
	if p == nil {
		return
	}
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
	if p.termenv != nil {
		p.termenv.ShowCursor()
	}
}
