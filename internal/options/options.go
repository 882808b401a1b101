package options

import (
	"os"

	"github.com/pkg/errors"

	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/task"
)

type Command string

const (
	CommandIndex     Command = "index"
	CommandInfo      Command = "info"
	CommandQuery     Command = "query"
	CommandImportPLY Command = "import-ply"
	CommandElevation Command = "elevation"
)

// Contains the options shared by every command
type Options struct {
	Input            string // Input LAS file/folder, or project file
	FolderProcessing bool   // Processes every LAS file of the input folder
	Recursive        bool   // Recursive lookup of LAS files in subfolders
	Debug            bool   // Development logging
	Silent           bool   // Only errors are logged
	Timestamp        bool   // Adds timestamps to log lines

	Command          Command
	IndexOptions     *IndexOptions
	QueryOptions     *QueryOptions
	ImportOptions    *ImportOptions
	ElevationOptions *ElevationOptions
}

type IndexOptions struct {
	Output   string // Output folder, the input is reordered in place when empty
	Settings index.Settings
	Workers  int  // Files indexed in parallel
	Force    bool // Rebuilds indexes which are up to date
}

type QueryOptions struct {
	Box             []float64 // x1 y1 z1 x2 y2 z2 in world coordinates, empty for everything
	Classifications []uint
	MaximumResults  int
	CacheSize       int
	Export          string // LAS file receiving the selected points
	Color           bool   // Exports RGB
}

type ImportOptions struct {
	Output string  // LAS file to write
	Scale  float64 // Coordinate resolution
	Index  bool    // Builds the index of the written file
}

type ElevationOptions struct {
	task.ElevationOptions
	CacheSize int
}

// Query window, false when the whole boundary is queried
func (q *QueryOptions) Window() (geometry.Box, bool) {
	if len(q.Box) != 6 {
		return geometry.EmptyBox(), false
	}
	b := q.Box
	return geometry.NewBox(b[0], b[1], b[2], b[3], b[4], b[5]), true
}

func (q *QueryOptions) ClassificationSet() []uint8 {
	out := make([]uint8, 0, len(q.Classifications))
	for _, c := range q.Classifications {
		out = append(out, uint8(c))
	}
	return out
}

func (opt *Options) Copy() *Options {
	newOpt := *opt
	if opt.IndexOptions != nil {
		indexOpt := *opt.IndexOptions
		newOpt.IndexOptions = &indexOpt
	}
	if opt.QueryOptions != nil {
		queryOpt := *opt.QueryOptions
		queryOpt.Classifications = append([]uint(nil), opt.QueryOptions.Classifications...)
		queryOpt.Box = append([]float64(nil), opt.QueryOptions.Box...)
		newOpt.QueryOptions = &queryOpt
	}
	if opt.ImportOptions != nil {
		importOpt := *opt.ImportOptions
		newOpt.ImportOptions = &importOpt
	}
	if opt.ElevationOptions != nil {
		elevationOpt := *opt.ElevationOptions
		newOpt.ElevationOptions = &elevationOpt
	}
	return &newOpt
}

// Checks that input and output paths exist and values are in range
func (opt *Options) Validate() error {
	st, err := os.Stat(opt.Input)
	if os.IsNotExist(err) {
		return errors.New("input file/folder not found")
	}
	if err != nil {
		return errors.Wrap(err, "input")
	}
	if opt.FolderProcessing && !st.IsDir() {
		return errors.New("input must be a folder when folder processing is enabled")
	}
	if !opt.FolderProcessing && st.IsDir() {
		return errors.New("input is a folder, enable folder processing")
	}

	switch opt.Command {
	case CommandIndex:
		o := opt.IndexOptions
		if o == nil {
			return errors.New("missing index options")
		}
		if o.Output != "" {
			if _, err := os.Stat(o.Output); os.IsNotExist(err) {
				return errors.New("output folder not found")
			}
		}
		if o.Settings.MaxLevel2 < 0 || o.Settings.MaxLevel1 < 0 {
			return errors.New("levels cannot be negative")
		}
	case CommandQuery:
		o := opt.QueryOptions
		if o == nil {
			return errors.New("missing query options")
		}
		if len(o.Box) != 0 && len(o.Box) != 6 {
			return errors.New("box needs six values")
		}
		if o.MaximumResults < 0 {
			return errors.New("max-results cannot be negative")
		}
		for _, c := range o.Classifications {
			if c > 255 {
				return errors.Errorf("classification %d out of range", c)
			}
		}
	case CommandImportPLY:
		o := opt.ImportOptions
		if o == nil || o.Output == "" {
			return errors.New("output LAS file is required")
		}
		if o.Scale <= 0 {
			return errors.New("scale must be positive")
		}
	case CommandElevation:
		o := opt.ElevationOptions
		if o == nil {
			return errors.New("missing elevation options")
		}
		if o.CellLengthMinPct < 0 || o.CellLengthMinPct > 100 {
			return errors.New("cell-min-pct must be within [0,100]")
		}
	}
	return nil
}
