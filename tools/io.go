package tools

import (
	"os"

	"github.com/pkg/errors"
)

// Opens the single input file of a command for reading
func OpenInput(path string) (*os.File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "input")
	}
	if st.IsDir() {
		return nil, errors.Errorf("input %s is a folder", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	return f, nil
}

// Creates directory and its parents unless it exists. An existing file at
// that path is an error.
func EnsureDirectory(directory string) error {
	st, err := os.Stat(directory)
	switch {
	case err == nil && st.IsDir():
		return nil
	case err == nil:
		return errors.Errorf("%s exists and is not a folder", directory)
	case !os.IsNotExist(err):
		return errors.Wrap(err, "output folder")
	}
	return errors.Wrap(os.MkdirAll(directory, 0o755), "create output folder")
}
