package options

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.las")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	cases := []struct {
		name string
		opt  Options
		ok   bool
	}{
		{"missing input", Options{Input: filepath.Join(dir, "b.las"), Command: CommandInfo}, false},
		{"file", Options{Input: file, Command: CommandInfo}, true},
		{"folder without flag", Options{Input: dir, Command: CommandInfo}, false},
		{"folder", Options{Input: dir, FolderProcessing: true, Command: CommandIndex, IndexOptions: &IndexOptions{}}, true},
		{"file as folder", Options{Input: file, FolderProcessing: true, Command: CommandInfo}, false},
		{"missing output", Options{Input: file, Command: CommandIndex, IndexOptions: &IndexOptions{Output: filepath.Join(dir, "out")}}, false},
		{"class range", Options{Input: file, Command: CommandQuery, QueryOptions: &QueryOptions{Classifications: []uint{2, 300}}}, false},
		{"box", Options{Input: file, Command: CommandQuery, QueryOptions: &QueryOptions{Box: []float64{1, 2, 3}}}, false},
		{"query", Options{Input: file, Command: CommandQuery, QueryOptions: &QueryOptions{Classifications: []uint{2}}}, true},
		{"import without output", Options{Input: file, Command: CommandImportPLY, ImportOptions: &ImportOptions{Scale: 0.001}}, false},
		{"import scale", Options{Input: file, Command: CommandImportPLY, ImportOptions: &ImportOptions{Output: "x.las"}}, false},
		{"elevation pct", Options{Input: file, Command: CommandElevation, ElevationOptions: &ElevationOptions{}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.opt.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCopyIsIndependent(t *testing.T) {
	opt := &Options{
		Input:        "a.las",
		QueryOptions: &QueryOptions{Classifications: []uint{1, 2}},
		IndexOptions: &IndexOptions{Workers: 2},
	}
	c := opt.Copy()
	c.QueryOptions.Classifications[0] = 9
	c.IndexOptions.Workers = 4

	assert.Equal(t, uint(1), opt.QueryOptions.Classifications[0])
	assert.Equal(t, 2, opt.IndexOptions.Workers)
	assert.Nil(t, c.ImportOptions)
	assert.Equal(t, []uint8{9, 2}, c.QueryOptions.ClassificationSet())
}

func TestWindow(t *testing.T) {
	q := &QueryOptions{}
	_, ok := q.Window()
	assert.False(t, ok)

	q.Box = []float64{5, 0, 0, 1, 2, 3}
	b, ok := q.Window()
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Min.X)
	assert.Equal(t, 5.0, b.Max.X)
}
