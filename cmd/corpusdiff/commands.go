package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bfsujason/llm-corpus-annotation/internal/analysis"
	"github.com/bfsujason/llm-corpus-annotation/internal/report"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
)

type runFunc = func(cmd *cobra.Command, a *app) error

type appWrapper = func(runFunc) func(*cobra.Command, []string) error

type metricsWrapper = func(runFunc) runFunc

func newSimilarityCmd(g *globalFlags, withApp appWrapper, withMetrics metricsWrapper) *cobra.Command {
	var (
		metricName string
		pair       []string
		topN       int
	)
	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Pairwise version similarity matrix, optionally with least-similar examples",
		Example: `  corpusdiff similarity --metric string
  corpusdiff similarity --metric embedding --examples human,deepseek --top-n 5`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&metricName, "metric", "string", "string or embedding")
	cmd.Flags().StringSliceVar(&pair, "examples", nil, "version pair A,B to list least-similar records for")
	cmd.Flags().IntVar(&topN, "top-n", 0, "examples to list (default analysis.topN)")

	cmd.RunE = withApp(withMetrics(func(cmd *cobra.Command, a *app) error {
		metric, err := similarity.ParseMetric(metricName)
		if err != nil {
			return err
		}
		if len(pair) != 0 && len(pair) != 2 {
			return fmt.Errorf("--examples takes exactly two versions, got %v", pair)
		}
		if !cmd.Flags().Changed("top-n") {
			topN = a.cfg.Analysis.TopN
		}

		matrix, err := a.svc.Similarity(cmd.Context(), analysis.SimilarityRequest{Metric: metric})
		if err != nil {
			return err
		}
		var examples []similarity.Example
		if len(pair) == 2 {
			examples, err = a.svc.SimilarityExamples(cmd.Context(), analysis.ExamplesRequest{
				VersionA: pair[0], VersionB: pair[1], Metric: metric, TopN: topN,
			})
			if err != nil {
				return err
			}
		}

		if g.format == "json" {
			out := map[string]any{"matrix": matrix}
			if len(pair) == 2 {
				out["examples"] = examples
			}
			return report.JSON(a.out, out)
		}
		if err := report.Matrix(a.out, matrix); err != nil {
			return err
		}
		if len(pair) == 2 {
			return report.SimilarityExamples(a.out, examples, string(metric), pair[0], pair[1], topN)
		}
		return nil
	}))
	return cmd
}

func newFrequencyCmd(g *globalFlags, withApp appWrapper, withMetrics metricsWrapper) *cobra.Command {
	var (
		dimension string
		preset    string
		groups    []string
		versions  []string
		match     string
	)
	cmd := &cobra.Command{
		Use:   "frequency",
		Short: "Tag frequency table per version",
		Example: `  corpusdiff frequency --dimension pos
  corpusdiff frequency --dimension dep --match segment
  corpusdiff frequency --dimension dep --group "Passive=pass" --group "Clause=advcl,ccomp,acl"`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&dimension, "dimension", "", "pos, dep or usas")
	cmd.Flags().StringVar(&preset, "preset", "", "grouping preset by dimension name (default: the dimension's own)")
	cmd.Flags().StringArrayVar(&groups, "group", nil, "custom group label=key1,key2 (repeatable, replaces the preset)")
	cmd.Flags().StringSliceVar(&versions, "versions", nil, "versions to report (default all; may include source)")
	cmd.Flags().StringVar(&match, "match", "", "exact, substring or segment (default exact for usas, substring otherwise)")
	_ = cmd.MarkFlagRequired("dimension")

	cmd.RunE = withApp(withMetrics(func(cmd *cobra.Command, a *app) error {
		dim, err := tagfreq.ParseDimension(dimension)
		if err != nil {
			return err
		}
		policy, err := tagfreq.ParseMatchPolicy(match)
		if err != nil {
			return err
		}
		query := tagfreq.Query{Dimension: dim, Versions: versions, Match: policy}
		switch {
		case len(groups) > 0:
			if query.Grouping, err = parseGroups(groups); err != nil {
				return err
			}
		case preset != "":
			p, err := tagfreq.ParseDimension(preset)
			if err != nil {
				return fmt.Errorf("unknown preset %q", preset)
			}
			query.Grouping = a.svc.Preset(p)
		}

		table, err := a.svc.Frequency(cmd.Context(), query)
		if err != nil {
			return err
		}
		if g.format == "json" {
			return report.JSON(a.out, table)
		}
		return report.Table(a.out, table)
	}))
	return cmd
}

// parseGroups reads "label=k1,k2" specs.
func parseGroups(specs []string) (tagfreq.Grouping, error) {
	var grouping tagfreq.Grouping
	for _, spec := range specs {
		label, keys, ok := strings.Cut(spec, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("--group %q: want label=key1,key2", spec)
		}
		group := tagfreq.Group{Label: label}
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				group.Keys = append(group.Keys, k)
			}
		}
		if len(group.Keys) == 0 {
			return nil, fmt.Errorf("--group %q: no keys", spec)
		}
		grouping = append(grouping, group)
	}
	return grouping, nil
}

func newDivergenceCmd(g *globalFlags, withApp appWrapper, withMetrics metricsWrapper) *cobra.Command {
	req := analysis.DivergenceRequest{}
	cmd := &cobra.Command{
		Use:   "divergence",
		Short: "Records where version A uses a feature more often than version B",
		Example: `  corpusdiff divergence --feature usas --tags S --a deepseek --b human
  corpusdiff divergence --feature dep --tags nsubj:pass,aux:pass --a human --b qwen --min-diff 1`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().StringVar(&req.Feature, "feature", "", "pos, dep or usas")
	cmd.Flags().StringSliceVar(&req.Tags, "tags", nil, "tag prefixes (pos), relations (dep) or one category letter (usas)")
	cmd.Flags().StringVar(&req.VersionA, "a", "", "version expected to use the feature more")
	cmd.Flags().StringVar(&req.VersionB, "b", "", "version to compare against")
	cmd.Flags().IntVar(&req.MinDiff, "min-diff", 0, "minimum count difference (default analysis.minDiff)")
	cmd.Flags().IntVar(&req.TopN, "top-n", 0, "examples to list (default analysis.topN)")
	for _, name := range []string{"feature", "tags", "a", "b"} {
		_ = cmd.MarkFlagRequired(name)
	}

	cmd.RunE = withApp(withMetrics(func(cmd *cobra.Command, a *app) error {
		if !cmd.Flags().Changed("min-diff") {
			req.MinDiff = a.cfg.Analysis.MinDiff
		}
		if !cmd.Flags().Changed("top-n") {
			req.TopN = a.cfg.Analysis.TopN
		}
		examples, err := a.svc.Divergence(cmd.Context(), req)
		if err != nil {
			return err
		}
		if g.format == "json" {
			return report.JSON(a.out, examples)
		}
		title := fmt.Sprintf("%s [%s] %s > %s", strings.ToUpper(req.Feature), strings.Join(req.Tags, ","), req.VersionA, req.VersionB)
		return report.Divergence(a.out, examples, title, req.TopN)
	}))
	return cmd
}
