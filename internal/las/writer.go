package las

import (
	"bufio"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

// Writer appends points given in world coordinates to a new LAS file and
// fixes the header counts and bounds on Close
type Writer struct {
	header   Header
	file     *os.File
	buffer   *bufio.Writer
	record   []byte
	count    uint64
	byReturn [15]uint64
	bounds   geometry.Box
}

// Creates a LAS 1.4 file at path. Coordinates are quantized with scale and
// offset from the header.
func NewWriter(path string, format uint8, scale, offset r3.Vector) (*Writer, error) {
	h, err := NewHeader(format, scale, offset)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create LAS")
	}

	w := &Writer{
		header: *h,
		file:   f,
		buffer: bufio.NewWriterSize(f, 1<<20),
		record: make([]byte, h.PointDataRecordLength),
		bounds: geometry.EmptyBox(),
	}
	if _, err := w.buffer.Write(h.encode()); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write LAS header")
	}
	return w, nil
}

func (w *Writer) Header() *Header {
	return &w.header
}

// Appends a point at world position p. The coordinates stored in attrs are
// ignored.
func (w *Writer) Add(p r3.Vector, attrs *Point) error {
	pt := *attrs
	var err error
	if pt.X, pt.Y, pt.Z, err = w.header.TransformInvert(p); err != nil {
		return err
	}

	for i := range w.record {
		w.record[i] = 0
	}
	EncodePoint(&pt, w.header.PointDataRecordFormat, w.record)
	if _, err := w.buffer.Write(w.record); err != nil {
		return errors.Wrap(err, "write LAS record")
	}

	q := w.header.Transform(pt.X, pt.Y, pt.Z)
	w.bounds.Extend(q.X, q.Y, q.Z)
	if pt.ReturnNumber >= 1 && int(pt.ReturnNumber) <= len(w.byReturn) {
		w.byReturn[pt.ReturnNumber-1]++
	}
	w.count++
	return nil
}

func (w *Writer) Count() uint64 {
	return w.count
}

// Flushes buffered records, rewrites the header and closes the file
func (w *Writer) Close() error {
	err := errors.Wrap(w.buffer.Flush(), "flush LAS")

	w.header.SetPointCount(w.count)
	w.header.NumberOfPointsByReturns = w.byReturn
	for i := 0; i < 5; i++ {
		if w.header.LegacyNumberOfPoints > 0 {
			w.header.LegacyNumberOfByReturn[i] = uint32(w.byReturn[i])
		}
	}
	if w.count > 0 {
		w.header.Min = w.bounds.Min
		w.header.Max = w.bounds.Max
	}
	if err == nil {
		_, werr := w.file.WriteAt(w.header.encode(), 0)
		err = errors.Wrap(werr, "write LAS header")
	}
	return multierr.Append(err, w.file.Close())
}
