package las

import (
	"encoding/binary"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Side files holding one fixed width value per point of a LAS file
const (
	SegmentExt    = ".segment"
	ElevationExt  = ".elevation"
	DescriptorExt = ".descriptor"
	VoxelExt      = ".voxel"
)

// RecordFile is a flat array of fixed width records stored in a file
type RecordFile struct {
	file  *os.File
	width int
}

// Opens or creates path and resizes it to hold exactly count records
func OpenRecordFile(path string, width int, count uint64) (*RecordFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open attribute file")
	}
	if err := f.Truncate(int64(count) * int64(width)); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "resize %s", path)
	}
	return &RecordFile{file: f, width: width}, nil
}

func (r *RecordFile) Width() int {
	return r.width
}

// Reads len(buf)/width records starting at record index
func (r *RecordFile) ReadAt(index uint64, buf []byte) error {
	_, err := r.file.ReadAt(buf, int64(index)*int64(r.width))
	return errors.Wrap(err, "read attribute file")
}

func (r *RecordFile) WriteAt(index uint64, buf []byte) error {
	_, err := r.file.WriteAt(buf, int64(index)*int64(r.width))
	return errors.Wrap(err, "write attribute file")
}

func (r *RecordFile) Close() error {
	return r.file.Close()
}

// Per point values kept beside the LAS records
type AttributeValues struct {
	Segment    []uint32
	Elevation  []float64
	Descriptor []float64
	Voxel      []uint64
}

func (v *AttributeValues) Resize(n int) {
	v.Segment = resize(v.Segment, n)
	v.Elevation = resize(v.Elevation, n)
	v.Descriptor = resize(v.Descriptor, n)
	v.Voxel = resize(v.Voxel, n)
}

func resize[T any](s []T, n int) []T {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]T, n)
}

// Attributes bundles the side files of one LAS file
type Attributes struct {
	segment    *RecordFile
	elevation  *RecordFile
	descriptor *RecordFile
	voxel      *RecordFile
}

// Base path of the side files for lasPath, the path without its extension
func AttributeBase(lasPath string) string {
	if i := strings.LastIndexByte(lasPath, '.'); i > strings.LastIndexAny(lasPath, `/\`) {
		return lasPath[:i]
	}
	return lasPath
}

// Opens or creates the side files of lasPath sized for count points
func OpenAttributes(lasPath string, count uint64) (*Attributes, error) {
	base := AttributeBase(lasPath)
	a := &Attributes{}
	var err error
	if a.segment, err = OpenRecordFile(base+SegmentExt, 4, count); err != nil {
		return nil, err
	}
	if a.elevation, err = OpenRecordFile(base+ElevationExt, 8, count); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	if a.descriptor, err = OpenRecordFile(base+DescriptorExt, 8, count); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	if a.voxel, err = OpenRecordFile(base+VoxelExt, 8, count); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

// Reads n values of every attribute starting at point from
func (a *Attributes) ReadPage(from uint64, n int, dst *AttributeValues) error {
	dst.Resize(n)
	if n == 0 {
		return nil
	}
	le := binary.LittleEndian

	buf := make([]byte, 8*n)
	if err := a.segment.ReadAt(from, buf[:4*n]); err != nil {
		return err
	}
	for i := range dst.Segment {
		dst.Segment[i] = le.Uint32(buf[4*i:])
	}

	if err := a.elevation.ReadAt(from, buf); err != nil {
		return err
	}
	for i := range dst.Elevation {
		dst.Elevation[i] = math.Float64frombits(le.Uint64(buf[8*i:]))
	}

	if err := a.descriptor.ReadAt(from, buf); err != nil {
		return err
	}
	for i := range dst.Descriptor {
		dst.Descriptor[i] = math.Float64frombits(le.Uint64(buf[8*i:]))
	}

	if err := a.voxel.ReadAt(from, buf); err != nil {
		return err
	}
	for i := range dst.Voxel {
		dst.Voxel[i] = le.Uint64(buf[8*i:])
	}
	return nil
}

// Writes every attribute of vals starting at point from
func (a *Attributes) WritePage(from uint64, vals *AttributeValues) error {
	n := len(vals.Segment)
	if n == 0 {
		return nil
	}
	le := binary.LittleEndian

	buf := make([]byte, 8*n)
	for i, v := range vals.Segment {
		le.PutUint32(buf[4*i:], v)
	}
	if err := a.segment.WriteAt(from, buf[:4*n]); err != nil {
		return err
	}

	for i, v := range vals.Elevation {
		le.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	if err := a.elevation.WriteAt(from, buf); err != nil {
		return err
	}

	for i, v := range vals.Descriptor {
		le.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	if err := a.descriptor.WriteAt(from, buf); err != nil {
		return err
	}

	for i, v := range vals.Voxel {
		le.PutUint64(buf[8*i:], v)
	}
	return a.voxel.WriteAt(from, buf)
}

func (a *Attributes) Close() error {
	var err error
	for _, f := range []*RecordFile{a.segment, a.elevation, a.descriptor, a.voxel} {
		if f != nil {
			err = multierr.Append(err, f.Close())
		}
	}
	return err
}

type sideFile struct {
	ext   string
	width int
}

var sideFiles = []sideFile{
	{SegmentExt, 4},
	{ElevationExt, 8},
	{DescriptorExt, 8},
	{VoxelExt, 8},
}

// Reports whether any side file of lasPath exists
func HasAttributes(lasPath string) bool {
	base := AttributeBase(lasPath)
	for _, s := range sideFiles {
		if _, err := os.Stat(base + s.ext); err == nil {
			return true
		}
	}
	return false
}

// Reorder writes the side files of a LAS file whose points were reordered.
// Values are looked up in the side files of the source by the original index
// of every point and collected in temporary files until Commit.
type Reorder struct {
	src  []*os.File
	dst  []*RecordFile
	tmp  []string
	out  []string
	size []int64
}

// Prepares side files for dstLas from those of srcLas. Temporary files are
// named tmpBase plus the side file extension. Missing source files and
// values past their end read as zero.
func NewReorder(srcLas, dstLas, tmpBase string, count uint64) (*Reorder, error) {
	r := &Reorder{}
	srcBase := AttributeBase(srcLas)
	dstBase := AttributeBase(dstLas)
	for _, s := range sideFiles {
		var src *os.File
		var size int64
		f, err := os.Open(srcBase + s.ext)
		switch {
		case err == nil:
			st, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, multierr.Append(errors.Wrap(err, "stat attribute file"), r.Abort())
			}
			src, size = f, st.Size()
		case !os.IsNotExist(err):
			return nil, multierr.Append(errors.Wrap(err, "open attribute file"), r.Abort())
		}
		r.src = append(r.src, src)
		r.size = append(r.size, size)

		tmp := tmpBase + s.ext
		dst, err := OpenRecordFile(tmp, s.width, count)
		if err != nil {
			return nil, multierr.Append(err, r.Abort())
		}
		r.dst = append(r.dst, dst)
		r.tmp = append(r.tmp, tmp)
		r.out = append(r.out, dstBase+s.ext)
	}
	return r, nil
}

// Writes the values of points at, at+1, ... whose original indices are origin
func (r *Reorder) Write(at uint64, origin []uint64) error {
	if len(origin) == 0 {
		return nil
	}
	for i, src := range r.src {
		width := int64(r.dst[i].Width())
		buf := make([]byte, int64(len(origin))*width)
		if src != nil {
			for k, o := range origin {
				off := int64(o) * width
				if off+width > r.size[i] {
					continue
				}
				if _, err := src.ReadAt(buf[int64(k)*width:int64(k+1)*width], off); err != nil {
					return errors.Wrap(err, "read attribute file")
				}
			}
		}
		if err := r.dst[i].WriteAt(at, buf); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reorder) close() error {
	var err error
	for _, f := range r.src {
		if f != nil {
			err = multierr.Append(err, f.Close())
		}
	}
	for _, f := range r.dst {
		err = multierr.Append(err, f.Close())
	}
	r.src, r.dst = nil, nil
	return err
}

// Replaces the side files of the destination with the reordered ones
func (r *Reorder) Commit() error {
	if err := r.close(); err != nil {
		return multierr.Append(err, r.Abort())
	}
	for i, tmp := range r.tmp {
		if err := os.Rename(tmp, r.out[i]); err != nil {
			return multierr.Append(errors.Wrap(err, "move attribute file"), r.Abort())
		}
	}
	r.tmp = nil
	return nil
}

// Removes the temporary files
func (r *Reorder) Abort() error {
	err := r.close()
	for _, tmp := range r.tmp {
		if rerr := os.Remove(tmp); rerr != nil && !os.IsNotExist(rerr) {
			err = multierr.Append(err, rerr)
		}
	}
	r.tmp = nil
	return err
}
