/*
 * This file is part of the Go Cesium Point Cloud Tiler distribution (https://github.com/mfbonfigli/gocesiumtiler).
 * Copyright (c) 2019 Massimo Federico Bonfigli - m.federico.bonfigli@gmail.com
 *
 * This program is free software; you can redistribute it and/or modify it
 * under the terms of the GNU Lesser General Public License Version 3 as
 * published by the Free Software Foundation;
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
 * Lesser General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 *
 * This software also uses third party components. You can find information
 * on their credits and licensing in the file LICENSE-3RD-PARTIES.md that
 * you should have received togheter with the source code.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/las"
	"github.com/ecopia-map/pointdb/internal/options"
	"github.com/ecopia-map/pointdb/internal/query"
	"github.com/ecopia-map/pointdb/internal/task"
	"github.com/ecopia-map/pointdb/pkg"
	"github.com/ecopia-map/pointdb/tools"
)

const VERSION = "1.0.0"

const logo = `
             _       _      _ _
 _ __   ___ (_)_ __ | |_ __| | |__
| '_ \ / _ \| | '_ \| __/ _  | '_ \
| |_) | (_) | | | | | || (_| | |_) |
| .__/ \___/|_|_| |_|\__\__,_|_.__/
|_|  An out-of-core point cloud index written in golang
     Copyright YYYY
`

func main() {
	// glog writes fatal startup errors to stderr
	_ = flag.Set("logtostderr", "true")
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		glog.Fatal(err)
	}
}

type app struct {
	opts   options.Options
	logger *zap.SugaredLogger
	sync   func() error
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pointdb",
		Short:         "Indexes LAS point clouds and queries them page by page",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(options.Command(cmd.Name()))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
		},
	}
	tools.DefineFlagsGlobal(root, &a.opts)

	root.AddCommand(
		a.indexCommand(),
		a.infoCommand(),
		a.queryCommand(),
		a.importCommand(),
		a.elevationCommand(),
	)
	return root
}

// Builds the logger and validates the options of command
func (a *app) init(command options.Command) error {
	a.opts.Command = command
	if !a.opts.Silent {
		printLogo()
	}
	logger, err := tools.NewLogger(a.opts.Debug, a.opts.Silent, a.opts.Timestamp)
	if err != nil {
		return err
	}
	a.logger = logger.Sugar()
	a.sync = logger.Sync
	a.logger.Debugw("options", "options", tools.FmtJSONString(a.opts))

	if err := a.opts.Validate(); err != nil {
		return errors.Wrap(err, "error parsing input parameters")
	}
	return nil
}

func (a *app) shutdown() {
	if a.sync != nil {
		_ = a.sync()
	}
}

func (a *app) indexCommand() *cobra.Command {
	opts := &options.IndexOptions{}
	a.opts.IndexOptions = opts
	cmd := &cobra.Command{
		Use:   string(options.CommandIndex),
		Short: "Builds the index of a LAS file or of every LAS file in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer timeTrack(a.logger, time.Now(), "indexing")
			n, err := pkg.NewIndexer(tools.NewStandardFileFinder(), a.logger).RunIndexer(cmd.Context(), &a.opts)
			if err != nil {
				return err
			}
			a.logger.Infow("indexing completed", "files", n)
			return nil
		},
	}
	tools.DefineFlagsForCommandIndex(cmd, opts)
	return cmd
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(options.CommandInfo),
		Short: "Prints the header and index summary of LAS files",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := tools.NewStandardFileFinder().GetLasFilesToProcess(&a.opts)
			if err != nil {
				return err
			}
			for _, path := range files {
				if err := a.info(cmd, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) info(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()
	if !index.HasIndex(path) {
		f, err := las.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		fmt.Fprintf(out, "%s\n  %s\n  index: missing\n", path, f.Header.String())
		return nil
	}

	d, err := dataset.Open(0, path, dataset.Options{}, a.logger)
	if err != nil {
		return err
	}
	defer d.Close()

	b := d.Boundary()
	h := d.Header()
	fmt.Fprintf(out, "%s\n", path)
	fmt.Fprintf(out, "  %s\n", h.String())
	fmt.Fprintf(out, "  created: %s\n", d.DateCreated)
	fmt.Fprintf(out, "  pages: %d\n", d.Index().Len())
	fmt.Fprintf(out, "  boundary: %s\n", b.String())
	fmt.Fprintf(out, "  density: %s points per square unit\n", tools.FormatDensity(d.PointCount(), b.Length(0)*b.Length(1)))
	return nil
}

func (a *app) queryCommand() *cobra.Command {
	opts := &options.QueryOptions{}
	a.opts.QueryOptions = opts
	cmd := &cobra.Command{
		Use:   string(options.CommandQuery),
		Short: "Counts or exports the points of a LAS file inside a box",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := dataset.NewRegistry(a.logger)
			defer registry.Close()
			if _, err := registry.Add(a.opts.Input, dataset.Options{BuildIndex: true, Settings: index.DefaultSettings()}); err != nil {
				return err
			}

			q := query.New(registry, query.Options{Name: "query", CacheSize: opts.CacheSize, Logger: a.logger})
			defer q.Close()
			if box, ok := opts.Window(); ok {
				q.Where().SetBox(box)
			}
			if classes := opts.ClassificationSet(); len(classes) > 0 {
				q.Where().Classifications = mapset.NewThreadUnsafeSet(classes...)
			}
			q.SetMaximumResults(opts.MaximumResults)
			q.Exec()

			var n int
			if opts.Export != "" {
				var err error
				if n, err = q.Export(opts.Export, opts.Color); err != nil {
					return err
				}
			} else {
				for q.Next() {
					n++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d points\n", n)
			return nil
		},
	}
	tools.DefineFlagsForCommandQuery(cmd, opts)
	return cmd
}

func (a *app) importCommand() *cobra.Command {
	opts := &options.ImportOptions{}
	a.opts.ImportOptions = opts
	cmd := &cobra.Command{
		Use:   string(options.CommandImportPLY),
		Short: "Converts the vertices of an ASCII PLY file to a LAS file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := tools.OpenInput(a.opts.Input)
			if err != nil {
				return err
			}
			defer in.Close()

			n, err := las.ImportPLY(in, opts.Output, opts.Scale, a.logger)
			if err != nil {
				return err
			}
			a.logger.Infow("imported", "output", opts.Output, "points", n)
			if !opts.Index {
				return nil
			}
			p, err := task.Run(cmd.Context(), task.NewBuild(index.NewBuilder(index.DefaultSettings(), a.logger), opts.Output, opts.Output), task.DefaultBudget, nil)
			if err != nil {
				return err
			}
			if p.Canceled {
				return cmd.Context().Err()
			}
			return nil
		},
	}
	tools.DefineFlagsForCommandImport(cmd, opts)
	return cmd
}

func (a *app) elevationCommand() *cobra.Command {
	opts := &options.ElevationOptions{}
	a.opts.ElevationOptions = opts
	cmd := &cobra.Command{
		Use:   string(options.CommandElevation),
		Short: "Computes the height of every point above the ground",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer timeTrack(a.logger, time.Now(), "elevation")
			registry := dataset.NewRegistry(a.logger)
			defer registry.Close()
			if _, err := registry.Add(a.opts.Input, dataset.Options{BuildIndex: true, Settings: index.DefaultSettings()}); err != nil {
				return err
			}

			q := query.New(registry, query.Options{Name: "elevation", CacheSize: opts.CacheSize, Logger: a.logger})
			defer q.Close()

			oldProgress := -1
			p, err := task.Run(cmd.Context(), task.NewElevation(q, opts.ElevationOptions, a.logger), task.DefaultBudget,
				func(p task.Progress) {
					if progress := int(p.Percent) / 10 * 10; progress != oldProgress {
						oldProgress = progress
						a.logger.Infow("elevation", "progress", progress, "cell", p.Step, "cells", p.Steps)
					}
				})
			if err != nil {
				return err
			}
			if p.Canceled {
				a.logger.Warnw("elevation canceled, cached pages were not flushed")
			}
			return nil
		},
	}
	tools.DefineFlagsForCommandElevation(cmd, opts)
	return cmd
}

func timeTrack(logger *zap.SugaredLogger, start time.Time, name string) {
	logger.Infow(fmt.Sprintf("%s took %s", name, time.Since(start)))
}

func printLogo() {
	fmt.Println(strings.ReplaceAll(logo, "YYYY", strconv.Itoa(time.Now().Year())))
}
