// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Invert solves linear systems of the lattice Laplacian with a solver
// configured by a YAML file and prints the statistics of each solve.
//
// The configuration file has a lattice section describing the operator and
// a solver section holding the solver parameters:
//
//	lattice:
//	  dims: [8, 8, 8, 8]
//	  colors: 3
//	  mass: 0.1
//	solver:
//	  inv_type: bicgstab
//	  tol: 1e-10
//	  precision_sloppy: single
//	even_odd: true
//	rhs: 4
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kostrzewa/quda"
	"github.com/kostrzewa/quda/field"
	"github.com/kostrzewa/quda/lattice"
	"github.com/kostrzewa/quda/metrics"
	"github.com/kostrzewa/quda/profile"
)

type config struct {
	Lattice lattice.Config `yaml:"lattice"`
	Solver  yaml.Node      `yaml:"solver"`
	EvenOdd bool           `yaml:"even_odd"`
	Rhs     int            `yaml:"rhs" validate:"gte=0"`
	Seed    uint64         `yaml:"seed"`
}

var (
	configPath  string
	logFormat   string
	logLevel    string
	showMetrics bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "invert",
		Short:        "Solve lattice Laplacian systems with a Krylov solver",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), logFormat, logLevel)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, p, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "invert.yaml", "configuration file")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the solve metrics in prometheus text format")
	return cmd
}

func loadConfig(path string) (*config, *quda.Param, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	cfg := &config{Rhs: 1}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("invert: %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("invert: %s: %w", path, err)
	}

	var solver []byte
	if !cfg.Solver.IsZero() {
		solver, err = yaml.Marshal(&cfg.Solver)
		if err != nil {
			return nil, nil, err
		}
	}
	p, err := quda.ParseParam(solver)
	if err != nil {
		return nil, nil, fmt.Errorf("invert: %s: %w", path, err)
	}
	return cfg, p, nil
}

func newLogger(w io.Writer, format, level string) (*quda.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invert: log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return quda.NewLogger(slog.NewTextHandler(w, opts)), nil
	case "json":
		return quda.NewLogger(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invert: unknown log format %q", format)
}

func run(ctx context.Context, w io.Writer, cfg *config, p *quda.Param, logger *quda.Logger) error {
	l, err := lattice.New(cfg.Lattice)
	if err != nil {
		return err
	}
	sloppy := l.WithPrecision(p.PrecisionSloppy)
	precon := l.WithPrecision(p.PrecisionPrecondition)

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	prof := profile.New(p.InvType.String())
	opts := []quda.Option{quda.WithLogger(logger)}

	rnd := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	fp := l.FieldParam(p.Precision)

	if len(p.Offset) > 0 {
		ms := quda.NewMultiShiftCG(p, l, sloppy, prof, opts...)
		for i := 0; i < cfg.Rhs; i++ {
			b := source(rnd, fp)
			x := make([]*field.Field, len(p.Offset))
			for j := range x {
				x[j] = field.New(fp)
			}
			if err := ms.Solve(x, b); err != nil {
				return err
			}
			for j, o := range p.Offset {
				fmt.Fprintf(w, "rhs %d shift %g: true_res %.3e iter_res %.3e\n", i, o, p.TrueResOffset[j], p.IterResOffset[j])
			}
		}
		fmt.Fprintf(w, "total: iter %d secs %.3f gflops %.3f\n", p.Iter, p.Secs, p.Gflops)
		return nil
	}

	s, err := quda.New(p, l, sloppy, precon, prof, opts...)
	if err != nil {
		return err
	}
	if cfg.EvenOdd {
		s = quda.NewPreconditioned(s, l, prof, opts...)
	}
	inst := quda.Instrument(s, p, rec)

	for i := 0; i < cfg.Rhs; i++ {
		b := source(rnd, fp)
		x := field.New(fp)
		iter := p.Iter
		if err := inst.SolveContext(ctx, x, b); err != nil {
			return err
		}
		fmt.Fprintf(w, "rhs %d: iter %d true_res %.3e\n", i, p.Iter-iter, p.TrueRes)
	}
	fmt.Fprintf(w, "total: iter %d secs %.3f gflops %.3f\n", p.Iter, p.Secs, p.Gflops)
	fmt.Fprintln(w, prof)

	if showMetrics {
		mfs, err := reg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return err
			}
		}
	}
	return nil
}

func source(rnd *rand.Rand, p field.Param) *field.Field {
	b := field.New(p)
	d := b.Data()
	for i := range d {
		d[i] = rnd.NormFloat64()
	}
	b.Quantize()
	return b
}
