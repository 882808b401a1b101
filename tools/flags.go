package tools

import (
	"github.com/spf13/cobra"

	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/options"
	"github.com/ecopia-map/pointdb/internal/query"
	"github.com/ecopia-map/pointdb/internal/task"
)

// Defines the flags shared by every command on the root command
func DefineFlagsGlobal(cmd *cobra.Command, opts *options.Options) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Input, "input", "i", "", "Specifies the input las file/folder.")
	flags.BoolVarP(&opts.FolderProcessing, "folder", "f", false, "Enables processing of all las files from input folder. Input must be a folder if specified")
	flags.BoolVarP(&opts.Recursive, "recursive", "r", false, "Enables recursive lookup for all .las files inside the subfolders")
	flags.BoolVarP(&opts.Debug, "debug", "d", false, "Enables debug logging.")
	flags.BoolVarP(&opts.Silent, "silent", "s", false, "Use to suppress all the non-error messages.")
	flags.BoolVarP(&opts.Timestamp, "timestamp", "t", false, "Adds timestamp to log messages.")
	_ = cmd.MarkPersistentFlagRequired("input")
}

func DefineFlagsForCommandIndex(cmd *cobra.Command, opts *options.IndexOptions) {
	d := index.DefaultSettings()
	defineStringFlagCommand(cmd, &opts.Output, "output", "o", "", "Specifies the output folder of the indexed las files. Input files are indexed in place when empty.")
	defineUint64FlagCommand(cmd, &opts.Settings.MaxSize1, "page-max-size", "m", d.MaxSize1, "Maximum number of points in one page of the main index.")
	defineIntFlagCommand(cmd, &opts.Settings.MaxLevel1, "page-max-level", "", d.MaxLevel1, "Maximum depth of the main index, 0 for no limit.")
	defineUint64FlagCommand(cmd, &opts.Settings.MaxSize2, "node-max-size", "", d.MaxSize2, "Maximum number of points in one leaf of the page index.")
	defineIntFlagCommand(cmd, &opts.Settings.MaxLevel2, "node-max-level", "", d.MaxLevel2, "Maximum depth of the page index.")
	defineIntFlagCommand(cmd, &opts.Settings.BufferSize, "buffer-size", "b", d.BufferSize, "Size in bytes of the copy buffer.")
	defineIntFlagCommand(cmd, &opts.Workers, "workers", "w", 0, "Number of files indexed in parallel, 0 for one per CPU.")
	defineBoolFlagCommand(cmd, &opts.Force, "force", "", false, "Rebuilds indexes which are up to date.")
}

func DefineFlagsForCommandQuery(cmd *cobra.Command, opts *options.QueryOptions) {
	cmd.Flags().Float64SliceVarP(&opts.Box, "box", "x", nil, "Window x1,y1,z1,x2,y2,z2 in world coordinates, the whole boundary when empty.")
	cmd.Flags().UintSliceVarP(&opts.Classifications, "classification", "c", nil, "Classifications to select, all when empty.")
	defineIntFlagCommand(cmd, &opts.MaximumResults, "max-results", "n", 0, "Stops after this number of points, 0 for no limit.")
	defineIntFlagCommand(cmd, &opts.CacheSize, "cache-size", "", query.DefaultCacheSize, "Number of pages kept in memory.")
	defineStringFlagCommand(cmd, &opts.Export, "export", "o", "", "Writes the selected points to this las file.")
	defineBoolFlagCommand(cmd, &opts.Color, "color", "", false, "Exports rgb colors.")
}

func DefineFlagsForCommandImport(cmd *cobra.Command, opts *options.ImportOptions) {
	defineStringFlagCommand(cmd, &opts.Output, "output", "o", "", "Specifies the las file to write.")
	defineFloat64FlagCommand(cmd, &opts.Scale, "scale", "", 0.001, "Coordinate resolution of the written las file.")
	defineBoolFlagCommand(cmd, &opts.Index, "index", "", true, "Builds the index of the written las file.")
}

func DefineFlagsForCommandElevation(cmd *cobra.Command, opts *options.ElevationOptions) {
	d := task.DefaultElevationOptions()
	defineIntFlagCommand(cmd, &opts.PointsPerCell, "cell-points", "p", d.PointsPerCell, "Approximate number of points per grid cell.")
	defineFloat64FlagCommand(cmd, &opts.CellLengthMinPct, "cell-min-pct", "", d.CellLengthMinPct, "Minimum cell length in percent of the smaller horizontal side.")
	defineIntFlagCommand(cmd, &opts.CacheSize, "cache-size", "", query.DefaultCacheSize, "Number of pages kept in memory.")
}

func defineStringFlagCommand(cmd *cobra.Command, output *string, name string, shortHand string, defaultValue string, usage string) {
	cmd.Flags().StringVarP(output, name, shortHand, defaultValue, usage)
}

func defineIntFlagCommand(cmd *cobra.Command, output *int, name string, shortHand string, defaultValue int, usage string) {
	cmd.Flags().IntVarP(output, name, shortHand, defaultValue, usage)
}

func defineUint64FlagCommand(cmd *cobra.Command, output *uint64, name string, shortHand string, defaultValue uint64, usage string) {
	cmd.Flags().Uint64VarP(output, name, shortHand, defaultValue, usage)
}

func defineFloat64FlagCommand(cmd *cobra.Command, output *float64, name string, shortHand string, defaultValue float64, usage string) {
	cmd.Flags().Float64VarP(output, name, shortHand, defaultValue, usage)
}

func defineBoolFlagCommand(cmd *cobra.Command, output *bool, name string, shortHand string, defaultValue bool, usage string) {
	cmd.Flags().BoolVarP(output, name, shortHand, defaultValue, usage)
}
