package editor

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ecopia-map/pointdb/internal/dataset"
	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/index"
	"github.com/ecopia-map/pointdb/internal/page"
	"github.com/ecopia-map/pointdb/internal/query"
)

// Clip filter box in world coordinates
type Clip struct {
	Min     [3]float64 `yaml:"min"`
	Max     [3]float64 `yaml:"max"`
	Enabled bool       `yaml:"enabled"`
}

func (c Clip) Box() geometry.Box {
	return geometry.NewBox(c.Min[0], c.Min[1], c.Min[2], c.Max[0], c.Max[1], c.Max[2])
}

func clipOf(box geometry.Box, enabled bool) Clip {
	return Clip{
		Min:     [3]float64{box.Min.X, box.Min.Y, box.Min.Z},
		Max:     [3]float64{box.Max.X, box.Max.Y, box.Max.Z},
		Enabled: enabled,
	}
}

// Filters shared by every viewport. Empty sets accept every value.
type Filters struct {
	Classifications  []uint8        `yaml:"classifications,omitempty"`
	Segments         []uint32       `yaml:"segments,omitempty"`
	Species          []uint32       `yaml:"species,omitempty"`
	ManagementStatus []uint32       `yaml:"managementStatus,omitempty"`
	Elevation        geometry.Range `yaml:"elevation"`
	Descriptor       geometry.Range `yaml:"descriptor"`
	Intensity        geometry.Range `yaml:"intensity"`
	Clip             Clip           `yaml:"clip"`
}

// Settings of the editor
type Settings struct {
	View      page.View      `yaml:"view"`
	CacheSize int            `yaml:"cacheSize"`
	Index     index.Settings `yaml:"index"`
	// Datasets opened in parallel
	OpenLimit int `yaml:"openLimit"`
}

func DefaultSettings() Settings {
	return Settings{
		View:      page.DefaultView(),
		CacheSize: query.DefaultCacheSize,
		Index:     index.DefaultSettings(),
		OpenLimit: 4,
	}
}

// Project file contents
type Project struct {
	Name     string          `yaml:"name"`
	Datasets []dataset.Entry `yaml:"datasets"`
	Filters  Filters         `yaml:"filters"`
	Settings Settings        `yaml:"settings"`
}

// Reads a project file. Relative dataset paths are resolved against the
// directory of the project file.
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read project")
	}
	p := &Project{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, errors.Wrapf(err, "parse project %s", path)
	}
	dir := filepath.Dir(path)
	for i := range p.Datasets {
		if !filepath.IsAbs(p.Datasets[i].Path) {
			p.Datasets[i].Path = filepath.Join(dir, p.Datasets[i].Path)
		}
	}
	return p, nil
}

// Writes p to path with dataset paths relative to the project directory
// where possible
func WriteProject(path string, p *Project) error {
	out := *p
	out.Datasets = make([]dataset.Entry, len(p.Datasets))
	copy(out.Datasets, p.Datasets)

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return errors.Wrap(err, "project directory")
	}
	for i := range out.Datasets {
		abs, err := filepath.Abs(out.Datasets[i].Path)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(dir, abs); err == nil && filepath.IsLocal(rel) {
			out.Datasets[i].Path = rel
		}
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return errors.Wrap(err, "encode project")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write project")
}
