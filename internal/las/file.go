package las

import (
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// File gives random access to the point records of a LAS file
type File struct {
	Header Header

	path string
	file *os.File
	pos  int64
}

// Opens a LAS file for reading
func Open(path string) (*File, error) {
	return openFile(path, os.O_RDONLY)
}

// Opens a LAS file for reading and in place record updates
func OpenReadWrite(path string) (*File, error) {
	return openFile(path, os.O_RDWR)
}

func openFile(path string, flag int) (*File, error) {
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open LAS")
	}

	lf := &File{path: path, file: f}
	if err := lf.ReadHeader(); err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	return lf, nil
}

// Creates path and writes h as its header
func Create(path string, h *Header) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create LAS")
	}
	lf := &File{path: path, file: f, Header: *h}
	if err := lf.WriteHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return lf, nil
}

// Creates path for read and write without writing a header. Records are
// addressed through h until the header bytes are copied in.
func CreateRaw(path string, h Header) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create LAS")
	}
	return &File{path: path, file: f, Header: h}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) ReadHeader() error {
	b := make([]byte, headerSize14)
	n, err := f.file.ReadAt(b, 0)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "read LAS header")
	}
	return f.Header.decode(b[:n])
}

// Writes the header fields at the start of the file
func (f *File) WriteHeader() error {
	_, err := f.file.WriteAt(f.Header.encode(), 0)
	return errors.Wrap(err, "write LAS header")
}

func (f *File) PointCount() uint64 {
	return f.Header.PointCount()
}

func (f *File) RecordLength() int {
	return int(f.Header.PointDataRecordLength)
}

func (f *File) Format() uint8 {
	return f.Header.PointDataRecordFormat
}

// Byte offset of record i
func (f *File) PointOffset(i uint64) int64 {
	return int64(f.Header.OffsetToPointData) + int64(i)*int64(f.Header.PointDataRecordLength)
}

// Positions the sequential cursor at record i
func (f *File) SeekPoint(i uint64) {
	f.pos = f.PointOffset(i)
}

// Fills buf with whole records from the cursor and advances it
func (f *File) ReadBuffer(buf []byte) error {
	if _, err := f.file.ReadAt(buf, f.pos); err != nil {
		return errors.Wrapf(err, "read %d bytes at %d", len(buf), f.pos)
	}
	f.pos += int64(len(buf))
	return nil
}

// Writes buf at the cursor and advances it
func (f *File) WriteBuffer(buf []byte) error {
	if _, err := f.file.WriteAt(buf, f.pos); err != nil {
		return errors.Wrapf(err, "write %d bytes at %d", len(buf), f.pos)
	}
	f.pos += int64(len(buf))
	return nil
}

// Reads n records starting at record from
func (f *File) ReadPoints(from uint64, n int) ([]byte, error) {
	buf := make([]byte, n*f.RecordLength())
	f.SeekPoint(from)
	if err := f.ReadBuffer(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Writes whole records starting at record from
func (f *File) WritePoints(from uint64, buf []byte) error {
	f.SeekPoint(from)
	return f.WriteBuffer(buf)
}

// Reads and decodes record i
func (f *File) ReadPoint(i uint64, p *Point) error {
	buf, err := f.ReadPoints(i, 1)
	if err != nil {
		return err
	}
	DecodePoint(buf, f.Format(), p)
	return nil
}

// Bytes at arbitrary positions, used to copy variable length records
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.file.ReadAt(b, off)
}

func (f *File) WriteAt(b []byte, off int64) (int, error) {
	return f.file.WriteAt(b, off)
}

func (f *File) Size() (int64, error) {
	st, err := f.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat LAS")
	}
	return st.Size(), nil
}

func (f *File) Close() error {
	return f.file.Close()
}

// Converts raw record coordinates to scaled coordinates, offset excluded
func (h *Header) Scaled(x, y, z int32) r3.Vector {
	return r3.Vector{X: float64(x) * h.Scale.X, Y: float64(y) * h.Scale.Y, Z: float64(z) * h.Scale.Z}
}

// Converts raw record coordinates to world coordinates
func (h *Header) Transform(x, y, z int32) r3.Vector {
	return h.Scaled(x, y, z).Add(h.Offset)
}

// Converts world coordinates back to raw record coordinates
func (h *Header) TransformInvert(p r3.Vector) (x, y, z int32, err error) {
	if x, err = Quantize(p.X, h.Scale.X, h.Offset.X); err != nil {
		return 0, 0, 0, errors.Wrap(err, "x")
	}
	if y, err = Quantize(p.Y, h.Scale.Y, h.Offset.Y); err != nil {
		return 0, 0, 0, errors.Wrap(err, "y")
	}
	if z, err = Quantize(p.Z, h.Scale.Z, h.Offset.Z); err != nil {
		return 0, 0, 0, errors.Wrap(err, "z")
	}
	return x, y, z, nil
}

var (
	minRaw = decimal.NewFromInt(math.MinInt32)
	maxRaw = decimal.NewFromInt(math.MaxInt32)
)

// Rounds (v - offset) / scale to the nearest integer using exact decimal
// arithmetic so values like 0.1 with scale 0.01 do not truncate to 9.
// Results outside the int32 range fail with ErrCoordinateRange.
func Quantize(v, scale, offset float64) (int32, error) {
	d := decimal.NewFromFloat(v).Sub(decimal.NewFromFloat(offset))
	raw := d.Div(decimal.NewFromFloat(scale)).Round(0)
	if raw.LessThan(minRaw) || raw.GreaterThan(maxRaw) {
		return 0, errors.Wrapf(ErrCoordinateRange, "%g with scale %g and offset %g", v, scale, offset)
	}
	return int32(raw.IntPart()), nil
}
