package tools

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ecopia-map/pointdb/internal/options"
)

type FileFinder interface {
	GetLasFilesToProcess(opts *options.Options) ([]string, error)
}

type StandardFileFinder struct{}

func NewStandardFileFinder() FileFinder {
	return &StandardFileFinder{}
}

func (f *StandardFileFinder) GetLasFilesToProcess(opts *options.Options) ([]string, error) {
	// If folder processing is not enabled then las file is given by -input flag, otherwise look for las in -input folder
	// eventually excluding nested folders if Recursive flag is disabled
	if !opts.FolderProcessing {
		return []string{opts.Input}, nil
	}

	return f.getLasFilesFromInputFolder(opts)
}

func (f *StandardFileFinder) getLasFilesFromInputFolder(opts *options.Options) ([]string, error) {
	var lasFiles = make([]string, 0)

	baseInfo, err := os.Stat(opts.Input)
	if err != nil {
		return nil, errors.Wrap(err, "input folder")
	}
	err = filepath.Walk(
		opts.Input,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() && !opts.Recursive && !os.SameFile(info, baseInfo) {
				return filepath.SkipDir
			}
			// hidden files are temporary output of running builds
			if !info.IsDir() && !strings.HasPrefix(info.Name(), ".") && strings.ToLower(filepath.Ext(info.Name())) == ".las" {
				lasFiles = append(lasFiles, path)
			}
			return nil
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", opts.Input)
	}

	sort.Strings(lasFiles)
	return lasFiles, nil
}
