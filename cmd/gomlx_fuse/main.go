// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gomlx_fuse loads graphs in YAML format, runs the registered fusion passes on them and writes the rewritten graphs.
//
// Graphs are independent and are fused in parallel, each one with its own fusion session.
//
// Examples:
//
//	gomlx_fuse -stats -o fused.yaml graph.yaml
//	gomlx_fuse -out_dir ~/fused -metrics_file fusion.prom model_*.yaml
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/fusion/internal/workerspool"
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/core/ir/irio"
	"github.com/gomlx/fusion/pkg/fusion"
	"github.com/gomlx/fusion/pkg/fusion/promstats"
	_ "github.com/gomlx/fusion/pkg/passes/all"
	"github.com/gomlx/fusion/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

var (
	flagCategory = flag.String("category", "all",
		fmt.Sprintf("Category of passes to run: one of %v, or \"all\" to run all of them in order.", fusion.Categories))
	flagPasses = flag.String("passes", "", "Comma-separated pass filter: \"<name>\" runs only the listed passes, "+
		"\"-<name>\" disables a pass. If empty, the environment variable "+fusion.GOMLX_FUSION+" is used.")
	flagOutput = flag.String("o", "", "File where to write the rewritten graph, when fusing only one graph. "+
		"Use \"-\" for the standard output.")
	flagOutputDir = flag.String("out_dir", "", "Directory where to write the rewritten graphs, "+
		"using the same base name as the input files.")
	flagStats   = flag.Bool("stats", false, "Display the matches and rewrites of each pass.")
	flagList    = flag.Bool("list", false, "List the registered passes and exit.")
	flagKernels = flag.String("kernels", "", "Comma-separated list of the op types supported by the target. "+
		"If set, matches whose fused op type is not listed are left unchanged.")
	flagMetricsFile = flag.String("metrics_file", "", "If set, Prometheus metrics of the run are written to this file "+
		"in the text exposition format.")
	flagParallelism = flag.Int("parallelism", 0, "Maximum number of graphs fused in parallel. "+
		"If <= 0, the number of CPUs is used.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar when fusing more than one graph.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		listPasses()
		return
	}
	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("No graph file given. See 'gomlx_fuse -help'.")
		os.Exit(1)
	}
	if err := run(args...); err != nil {
		klog.Errorf("gomlx_fuse failed: %+v", err)
		os.Exit(1)
	}
}

func categories() ([]fusion.Category, error) {
	if *flagCategory == "all" {
		return fusion.Categories, nil
	}
	var list []fusion.Category
	for _, name := range strings.Split(*flagCategory, ",") {
		category, err := fusion.ParseCategory(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		list = append(list, category)
	}
	return list, nil
}

func passFilter() (fusion.Filter, error) {
	if *flagPasses != "" {
		return fusion.ParseFilter(*flagPasses)
	}
	return fusion.FilterFromEnv()
}

// job is the fusion of one graph file.
type job struct {
	path           string
	g              *ir.Graph
	session        *fusion.Session
	statuses       []fusion.Status
	numNodesBefore int
}

func (j *job) fuse(cats []fusion.Category, filter fusion.Filter, recorder *promstats.Recorder) error {
	path, err := fsutil.InputFile(j.path)
	if err != nil {
		return err
	}
	j.g, err = irio.Load(path)
	if err != nil {
		return err
	}
	j.session = fusion.NewSession()
	j.session.Stats = fusion.MultiStats{j.session.Stats, recorder}
	manager := fusion.NewManager(j.session, filter)
	if *flagKernels != "" {
		manager.WithKernels(fusion.NewKernelSet(strings.Split(*flagKernels, ",")...))
	}

	j.numNodesBefore = j.g.NumNodes()
	j.statuses = make([]fusion.Status, len(cats))
	for ii, category := range cats {
		j.statuses[ii], err = manager.Run(j.g, category)
		if err != nil {
			return errors.WithMessagef(err, "running %s passes on %q (status %s)", category, j.path, j.statuses[ii])
		}
	}
	klog.V(1).Infof("graph %q from %q: %d nodes before fusion, %d after",
		j.g.Name(), j.path, j.numNodesBefore, j.g.NumNodes())
	return nil
}

func run(paths ...string) error {
	if *flagOutput != "" && len(paths) > 1 {
		return errors.Errorf("-o can only be used with one graph file, got %d: use -out_dir instead", len(paths))
	}
	if *flagOutput != "" && *flagOutputDir != "" {
		return errors.New("only one of -o or -out_dir can be set")
	}
	if *flagOutputDir != "" {
		if err := checkUniqueBaseNames(paths); err != nil {
			return err
		}
	}
	cats, err := categories()
	if err != nil {
		return err
	}
	filter, err := passFilter()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := promstats.New(registry, "gomlx")
	jobs := make([]*job, len(paths))
	var bar *progress
	if *flagProgress {
		bar = newProgress(len(paths), os.Stderr)
	}
	pool := workerspool.New(*flagParallelism)
	for ii, path := range paths {
		j := &job{path: path}
		jobs[ii] = j
		pool.Go(func() error {
			defer bar.done()
			return j.fuse(cats, filter, recorder)
		})
	}
	err, numFailed := pool.Wait()
	bar.finish()
	if err != nil {
		return errors.WithMessagef(err, "%d of %d graphs failed", numFailed, len(paths))
	}

	for _, j := range jobs {
		if *flagStats {
			printStats(j.g, j.session, cats, j.statuses, j.numNodesBefore)
		}
		if err := writeGraph(j); err != nil {
			return err
		}
	}
	if *flagMetricsFile != "" {
		metricsPath, err := fsutil.OutputFile(*flagMetricsFile)
		if err != nil {
			return err
		}
		if err := prometheus.WriteToTextfile(metricsPath, registry); err != nil {
			return errors.Wrapf(err, "writing metrics to %q", metricsPath)
		}
	}
	return nil
}

// checkUniqueBaseNames makes sure no two inputs are written to the same file of -out_dir.
func checkUniqueBaseNames(paths []string) error {
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		base := filepath.Base(path)
		if previous, found := seen[base]; found {
			return errors.Errorf("graph files %q and %q would both be written to %q in -out_dir %q",
				previous, path, base, *flagOutputDir)
		}
		seen[base] = path
	}
	return nil
}

func writeGraph(j *job) error {
	var path string
	switch {
	case *flagOutput == "-":
		return irio.Write(os.Stdout, j.g)
	case *flagOutput != "":
		path = *flagOutput
	case *flagOutputDir != "":
		path = filepath.Join(*flagOutputDir, filepath.Base(j.path))
	default:
		return nil
	}
	path, err := fsutil.OutputFile(path)
	if err != nil {
		return err
	}
	return irio.Save(j.g, path)
}

func listPasses() {
	table := newPlainTable(true)
	table.Row("Category", "Pass")
	for _, category := range fusion.Categories {
		for _, name := range fusion.Registered(category) {
			table.Row(category.String(), name)
		}
	}
	fmt.Println(titleStyle.Render("Registered fusion passes"))
	fmt.Println(table.Render())
	fmt.Printf("Filter from %s=%q\n", fusion.GOMLX_FUSION, os.Getenv(fusion.GOMLX_FUSION))
}
