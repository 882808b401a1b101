package index

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ecopia-map/pointdb/internal/geometry"
	"github.com/ecopia-map/pointdb/internal/las"
)

const IndexExt = ".idx"

var ErrBuilderState = errors.New("index builder is not running")

// Settings of the two octree levels. The main index splits the dataset into
// pages, the page local index orders points inside one page.
type Settings struct {
	MaxSize1   uint64 `yaml:"maxSize1"`
	MaxLevel1  int    `yaml:"maxLevel1"`
	MaxSize2   uint64 `yaml:"maxSize2"`
	MaxLevel2  int    `yaml:"maxLevel2"`
	BufferSize int    `yaml:"bufferSize"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxSize1:   100000,
		MaxLevel1:  0,
		MaxSize2:   32,
		MaxLevel2:  5,
		BufferSize: 5 * 1024 * 1024,
	}
}

// Path of the index file which belongs to a LAS file
func IndexPath(lasPath string) string {
	return las.AttributeBase(lasPath) + IndexExt
}

type buildState int

const (
	stateNone buildState = iota
	stateBegin
	stateCopyVLR
	stateCopyPoints
	stateCopyEVLR
	stateMove
	stateMainBegin
	stateMainInsert
	stateMainEnd
	stateMainSort
	stateNodeBegin
	stateNodeInsert
	stateNodeEnd
	stateAttributes
	stateEnd
	stateDone
)

var stateNames = map[buildState]string{
	stateNone:       "none",
	stateBegin:      "begin",
	stateCopyVLR:    "copy vlr",
	stateCopyPoints: "copy points",
	stateCopyEVLR:   "copy evlr",
	stateMove:       "move",
	stateMainBegin:  "main begin",
	stateMainInsert: "main insert",
	stateMainEnd:    "main end",
	stateMainSort:   "main sort",
	stateNodeBegin:  "node begin",
	stateNodeInsert: "node insert",
	stateNodeEnd:    "node end",
	stateAttributes: "attributes",
	stateEnd:        "end",
	stateDone:       "done",
}

func (s buildState) String() string {
	return stateNames[s]
}

// Builder reorders the points of a LAS file into octree pages and writes the
// matching index file. Work is split into small steps so a caller can
// interleave it with other work and abandon it at any step.
//
// Output is written to temporary files next to the output path and renamed
// only by the final step. When the input has side files their values follow
// the points to their new positions.
type Builder struct {
	settings Settings
	logger   *zap.SugaredLogger

	state buildState

	input      string
	output     string
	tmpSorted  string
	tmpCopy    string
	tmpIndex   string
	outputIdx  string
	inFile     *las.File
	copyFile   *las.File
	sortFile   *las.File
	indexFile  *os.File
	header     las.Header
	pointCount uint64
	recordLen  int

	// original index of the point at every position of the copy and
	// sorted files, only while the input has side files
	originCopy    *las.RecordFile
	originSort    *las.RecordFile
	tmpOriginCopy string
	tmpOriginSort string
	tmpAttributes string
	reorder       *las.Reorder

	// position in the current stage, in points or nodes
	cursor     uint64
	stride     uint64
	boundary   geometry.Box
	maxInten   uint16
	maxColor   uint16
	main       *Index
	used       map[int]uint64
	nodeCursor int
	idxOffset  int64

	// processed work units over all stages
	done  uint64
	total uint64
}

func NewBuilder(settings Settings, logger *zap.SugaredLogger) *Builder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := DefaultSettings()
	if settings.MaxSize1 == 0 {
		settings.MaxSize1 = d.MaxSize1
	}
	if settings.MaxSize2 == 0 {
		settings.MaxSize2 = d.MaxSize2
	}
	if settings.BufferSize <= 0 {
		settings.BufferSize = d.BufferSize
	}
	return &Builder{settings: settings, logger: logger}
}

// Prepares building the index of input. The reordered LAS file is written to
// output, which may equal input, and the index to IndexPath(output).
func (b *Builder) Start(input, output string) error {
	if err := b.Close(); err != nil {
		return err
	}

	b.input = input
	b.output = output
	b.outputIdx = IndexPath(output)

	dir := filepath.Dir(output)
	id := uuid.NewString()
	b.tmpCopy = filepath.Join(dir, "."+id+".copy.tmp")
	b.tmpSorted = filepath.Join(dir, "."+id+".las.tmp")
	b.tmpIndex = filepath.Join(dir, "."+id+".idx.tmp")
	b.tmpOriginCopy = filepath.Join(dir, "."+id+".copy.origin.tmp")
	b.tmpOriginSort = filepath.Join(dir, "."+id+".origin.tmp")
	b.tmpAttributes = filepath.Join(dir, "."+id+".attributes")

	b.state = stateBegin
	b.done = 0
	b.total = 0
	b.logger.Debugw("index build started", "input", input, "output", output)
	return nil
}

// Reports whether the build has finished
func (b *Builder) End() bool {
	return b.state == stateDone
}

// Progress over all stages in percent
func (b *Builder) Percent() float64 {
	if b.state == stateDone {
		return 100
	}
	if b.total == 0 {
		return 0
	}
	return 100 * float64(b.done) / float64(b.total)
}

// Runs one step of the current stage
func (b *Builder) Next() error {
	var err error
	switch b.state {
	case stateBegin:
		err = b.stateBegin()
	case stateCopyVLR:
		err = b.stateCopyVLR()
	case stateCopyPoints:
		err = b.stateCopyPoints()
	case stateCopyEVLR:
		err = b.stateCopyEVLR()
	case stateMove:
		err = b.stateMove()
	case stateMainBegin:
		err = b.stateMainBegin()
	case stateMainInsert:
		err = b.stateMainInsert()
	case stateMainEnd:
		err = b.stateMainEnd()
	case stateMainSort:
		err = b.stateMainSort()
	case stateNodeBegin:
		err = b.stateNodeBegin()
	case stateNodeInsert:
		err = b.stateNodeInsert()
	case stateNodeEnd:
		err = b.stateNodeEnd()
	case stateAttributes:
		err = b.stateAttributes()
	case stateEnd:
		err = b.stateEnd()
	default:
		return ErrBuilderState
	}
	if err != nil {
		b.logger.Errorw("index build failed", "input", b.input, "state", b.state.String(), "error", err)
		return multierr.Append(errors.Wrapf(err, "index %s at %s", b.input, b.state), b.Close())
	}
	return nil
}

// Releases files and removes temporary output of an unfinished build
func (b *Builder) Close() error {
	var err error
	for _, f := range []*las.File{b.inFile, b.copyFile, b.sortFile} {
		if f != nil {
			err = multierr.Append(err, f.Close())
		}
	}
	for _, f := range []*las.RecordFile{b.originCopy, b.originSort} {
		if f != nil {
			err = multierr.Append(err, f.Close())
		}
	}
	if b.indexFile != nil {
		err = multierr.Append(err, b.indexFile.Close())
	}
	if b.reorder != nil {
		err = multierr.Append(err, b.reorder.Abort())
	}
	b.inFile, b.copyFile, b.sortFile, b.indexFile = nil, nil, nil, nil
	b.originCopy, b.originSort, b.reorder = nil, nil, nil

	if b.state != stateDone && b.state != stateNone {
		for _, p := range []string{b.tmpCopy, b.tmpSorted, b.tmpIndex, b.tmpOriginCopy, b.tmpOriginSort} {
			if rerr := os.Remove(p); rerr != nil && !os.IsNotExist(rerr) {
				err = multierr.Append(err, rerr)
			}
		}
		b.state = stateNone
	}
	b.main = nil
	b.used = nil
	return err
}

func (b *Builder) stepPoints() uint64 {
	n := uint64(b.settings.BufferSize / b.recordLen)
	if n == 0 {
		n = 1
	}
	return n
}

func (b *Builder) stateBegin() error {
	f, err := las.Open(b.input)
	if err != nil {
		return err
	}
	b.inFile = f
	b.header = f.Header
	b.pointCount = f.PointCount()
	b.recordLen = f.RecordLength()

	b.stride = b.pointCount / b.settings.MaxSize1
	if b.stride == 0 {
		b.stride = 1
	}
	b.boundary = geometry.EmptyBox()
	b.maxInten = 0
	b.maxColor = 0
	b.total = 4 * b.pointCount

	if b.copyFile, err = las.CreateRaw(b.tmpCopy, b.header); err != nil {
		return errors.Wrap(err, "temporary copy")
	}

	if las.HasAttributes(b.input) {
		if b.originCopy, err = las.OpenRecordFile(b.tmpOriginCopy, 8, b.pointCount); err != nil {
			return err
		}
		if b.originSort, err = las.OpenRecordFile(b.tmpOriginSort, 8, b.pointCount); err != nil {
			return err
		}
		if b.reorder, err = las.NewReorder(b.input, b.output, b.tmpAttributes, b.pointCount); err != nil {
			return err
		}
		b.total += b.pointCount
	}

	b.logger.Infow("indexing", "input", b.input, "points", b.pointCount, "format", b.header.PointDataRecordFormat)
	b.state = stateCopyVLR
	return nil
}

func (b *Builder) stateCopyVLR() error {
	if err := copyRange(b.copyFile, b.inFile, 0, int64(b.header.OffsetToPointData), b.settings.BufferSize); err != nil {
		return err
	}
	b.cursor = 0
	b.state = stateCopyPoints
	return nil
}

// Position of input record i after strided reordering. Records i with the
// same i mod stride form one pass, passes are written one after another.
func stridedPosition(i, n, stride uint64) uint64 {
	start := i % stride
	k := i / stride
	before := start*(n/stride) + min(start, n%stride)
	return before + k
}

func (b *Builder) stateCopyPoints() error {
	if b.cursor >= b.pointCount {
		b.state = stateCopyEVLR
		return nil
	}

	n := min(b.stepPoints(), b.pointCount-b.cursor)
	buf, err := b.inFile.ReadPoints(b.cursor, int(n))
	if err != nil {
		return err
	}

	format := b.header.PointDataRecordFormat
	for k := uint64(0); k < n; k++ {
		rec := buf[int(k)*b.recordLen : int(k+1)*b.recordLen]

		x, y, z := las.RecordXYZ(rec)
		p := b.header.Scaled(x, y, z)
		b.boundary.Extend(p.X, p.Y, p.Z)
		b.maxInten = max(b.maxInten, las.RecordIntensity(rec))
		if r, g, bl, ok := las.RecordRGB(rec, format); ok {
			b.maxColor = max(b.maxColor, r, g, bl)
		}

		dst := stridedPosition(b.cursor+k, b.pointCount, b.stride)
		if err := b.copyFile.WritePoints(dst, rec); err != nil {
			return err
		}
		if b.originCopy != nil {
			if err := writeOrigins(b.originCopy, dst, []uint64{b.cursor + k}); err != nil {
				return err
			}
		}
	}

	b.cursor += n
	b.done += n
	return nil
}

func (b *Builder) stateCopyEVLR() error {
	size, err := b.inFile.Size()
	if err != nil {
		return err
	}
	end := b.inFile.PointOffset(b.pointCount)
	if size > end {
		if err := copyRange(b.copyFile, b.inFile, end, size-end, b.settings.BufferSize); err != nil {
			return err
		}
	}

	err = b.inFile.Close()
	b.inFile = nil
	if err != nil {
		return errors.Wrap(err, "close input")
	}
	b.state = stateMove
	return nil
}

// The strided copy becomes the source of the page sort. The sorted file gets
// the same header, VLR and EVLR bytes.
func (b *Builder) stateMove() error {
	var err error
	if b.sortFile, err = las.CreateRaw(b.tmpSorted, b.header); err != nil {
		return errors.Wrap(err, "temporary output")
	}

	if err := copyRange(b.sortFile, b.copyFile, 0, int64(b.header.OffsetToPointData), b.settings.BufferSize); err != nil {
		return err
	}
	size, err := b.copyFile.Size()
	if err != nil {
		return err
	}
	end := b.copyFile.PointOffset(b.pointCount)
	if size > end {
		if err := copyRange(b.sortFile, b.copyFile, end, size-end, b.settings.BufferSize); err != nil {
			return err
		}
	}

	b.state = stateMainBegin
	return nil
}

func (b *Builder) stateMainBegin() error {
	b.main = New()
	b.main.InsertBegin(b.boundary.Cube(), b.boundary, b.settings.MaxSize1, b.settings.MaxLevel1, false)
	b.cursor = 0
	b.state = stateMainInsert
	return nil
}

func (b *Builder) stateMainInsert() error {
	if b.cursor >= b.pointCount {
		b.state = stateMainEnd
		return nil
	}

	n := min(b.stepPoints(), b.pointCount-b.cursor)
	buf, err := b.copyFile.ReadPoints(b.cursor, int(n))
	if err != nil {
		return err
	}
	for k := 0; k < int(n); k++ {
		x, y, z := las.RecordXYZ(buf[k*b.recordLen:])
		p := b.header.Scaled(x, y, z)
		b.main.Insert(p.X, p.Y, p.Z)
	}

	b.cursor += n
	b.done += n
	return nil
}

func (b *Builder) stateMainEnd() error {
	b.main.InsertEnd()

	f, err := os.Create(b.tmpIndex)
	if err != nil {
		return errors.Wrap(err, "create temporary index")
	}
	b.indexFile = f

	// Reserve the head of the file, node offsets are filled in later
	n, err := b.main.WriteTo(f)
	if err != nil {
		return err
	}
	b.idxOffset = n

	b.used = make(map[int]uint64, b.main.Len())
	b.cursor = 0
	b.state = stateMainSort
	b.logger.Debugw("main index", "nodes", b.main.Len(), "boundary", b.main.Boundary().String())
	return nil
}

// Scatters every record to the range of the node it belongs to
func (b *Builder) stateMainSort() error {
	if b.cursor >= b.pointCount {
		err := b.copyFile.Close()
		b.copyFile = nil
		if err != nil {
			return errors.Wrap(err, "close temporary copy")
		}
		if err := os.Remove(b.tmpCopy); err != nil {
			return errors.Wrap(err, "remove temporary copy")
		}
		if b.originCopy != nil {
			err := b.originCopy.Close()
			b.originCopy = nil
			if err != nil {
				return errors.Wrap(err, "close temporary origins")
			}
			if err := os.Remove(b.tmpOriginCopy); err != nil {
				return errors.Wrap(err, "remove temporary origins")
			}
		}
		b.used = nil
		b.state = stateNodeBegin
		return nil
	}

	n := min(b.stepPoints(), b.pointCount-b.cursor)
	buf, err := b.copyFile.ReadPoints(b.cursor, int(n))
	if err != nil {
		return err
	}
	var origins []uint64
	if b.originCopy != nil {
		if origins, err = readOrigins(b.originCopy, b.cursor, int(n)); err != nil {
			return err
		}
	}
	for k := 0; k < int(n); k++ {
		rec := buf[k*b.recordLen : (k+1)*b.recordLen]
		x, y, z := las.RecordXYZ(rec)
		p := b.header.Scaled(x, y, z)

		i := b.main.SelectNode(b.used, p.X, p.Y, p.Z)
		if i < 0 {
			return errors.Errorf("point %d outside index boundary", b.cursor+uint64(k))
		}
		dst := b.main.At(i).From + b.used[i]
		b.used[i]++
		if err := b.sortFile.WritePoints(dst, rec); err != nil {
			return err
		}
		if origins != nil {
			if err := writeOrigins(b.originSort, dst, origins[k:k+1]); err != nil {
				return err
			}
		}
	}

	b.cursor += n
	b.done += n
	return nil
}

func (b *Builder) stateNodeBegin() error {
	b.nodeCursor = 0
	b.state = stateNodeInsert
	return nil
}

// Orders the points of main nodes by their page local leaf until one buffer
// worth of points was processed
func (b *Builder) stateNodeInsert() error {
	budget := b.stepPoints()
	var processed uint64

	for processed < budget {
		if b.nodeCursor >= b.main.Len() {
			b.state = stateNodeEnd
			return nil
		}
		n, err := b.sortNode(b.nodeCursor)
		if err != nil {
			return err
		}
		b.nodeCursor++
		processed += n
		b.done += n
	}
	return nil
}

type coded struct {
	code   uint64
	origin uint64
	rec    []byte
}

func (b *Builder) sortNode(i int) (uint64, error) {
	node := b.main.At(i)
	if node.Size == 0 {
		return 0, nil
	}

	buf, err := b.sortFile.ReadPoints(node.From, int(node.Size))
	if err != nil {
		return 0, err
	}

	var origins []uint64
	if b.originSort != nil {
		if origins, err = readOrigins(b.originSort, node.From, int(node.Size)); err != nil {
			return 0, err
		}
	}

	format := b.header.PointDataRecordFormat
	promoteInten := b.maxInten > 0 && b.maxInten < 256
	promoteColor := b.maxColor > 0 && b.maxColor < 256

	records := make([]coded, node.Size)
	points := geometry.EmptyBox()
	for k := range records {
		rec := buf[k*b.recordLen : (k+1)*b.recordLen]
		if promoteInten {
			las.SetRecordIntensity(rec, las.RecordIntensity(rec)*256)
		}
		if promoteColor {
			if r, g, bl, ok := las.RecordRGB(rec, format); ok {
				las.SetRecordRGB(rec, format, r*256, g*256, bl*256)
			}
		}
		x, y, z := las.RecordXYZ(rec)
		p := b.header.Scaled(x, y, z)
		points.Extend(p.X, p.Y, p.Z)
		records[k].rec = rec
		if origins != nil {
			records[k].origin = origins[k]
		}
	}

	page := New()
	page.InsertBegin(b.main.NodeBoundary(i, b.main.Boundary()), points, b.settings.MaxSize2, b.settings.MaxLevel2, true)
	for k := range records {
		x, y, z := las.RecordXYZ(records[k].rec)
		p := b.header.Scaled(x, y, z)
		records[k].code = page.Insert(p.X, p.Y, p.Z)
	}
	page.InsertEnd()

	sort.SliceStable(records, func(a, c int) bool { return records[a].code < records[c].code })

	out := make([]byte, 0, len(buf))
	for k := range records {
		out = append(out, records[k].rec...)
	}
	if err := b.sortFile.WritePoints(node.From, out); err != nil {
		return 0, err
	}
	if origins != nil {
		for k := range records {
			origins[k] = records[k].origin
		}
		if err := writeOrigins(b.originSort, node.From, origins); err != nil {
			return 0, err
		}
	}

	if _, err := b.indexFile.WriteAt(page.Encode(), b.idxOffset); err != nil {
		return 0, errors.Wrap(err, "write page index")
	}
	node.Offset = uint64(b.idxOffset)
	b.idxOffset += page.EncodedSize()

	return node.Size, nil
}

func (b *Builder) stateNodeEnd() error {
	if _, err := b.indexFile.WriteAt(b.main.Encode(), 0); err != nil {
		return errors.Wrap(err, "write main index")
	}
	b.cursor = 0
	b.state = stateAttributes
	return nil
}

// Copies side file values to the final positions of their points
func (b *Builder) stateAttributes() error {
	if b.reorder == nil || b.cursor >= b.pointCount {
		b.state = stateEnd
		return nil
	}

	n := min(b.stepPoints(), b.pointCount-b.cursor)
	origins, err := readOrigins(b.originSort, b.cursor, int(n))
	if err != nil {
		return err
	}
	if err := b.reorder.Write(b.cursor, origins); err != nil {
		return err
	}

	b.cursor += n
	b.done += n
	return nil
}

func (b *Builder) stateEnd() error {
	err := multierr.Combine(b.sortFile.Close(), b.indexFile.Close())
	b.sortFile, b.indexFile = nil, nil
	if err != nil {
		return errors.Wrap(err, "close output")
	}

	if err := os.Rename(b.tmpSorted, b.output); err != nil {
		return errors.Wrap(err, "move output")
	}
	if err := os.Rename(b.tmpIndex, b.outputIdx); err != nil {
		return errors.Wrap(err, "move index")
	}
	if b.reorder != nil {
		err := multierr.Combine(b.originSort.Close(), os.Remove(b.tmpOriginSort))
		b.originSort = nil
		if err != nil {
			return errors.Wrap(err, "remove temporary origins")
		}
		err = b.reorder.Commit()
		b.reorder = nil
		if err != nil {
			return err
		}
	}

	b.state = stateDone
	b.main = nil
	b.logger.Infow("index built", "output", b.output, "index", b.outputIdx, "points", b.pointCount)
	return nil
}

func readOrigins(f *las.RecordFile, from uint64, n int) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if err := f.ReadAt(from, buf); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

func writeOrigins(f *las.RecordFile, at uint64, origins []uint64) error {
	buf := make([]byte, 8*len(origins))
	for i, o := range origins {
		binary.LittleEndian.PutUint64(buf[8*i:], o)
	}
	return f.WriteAt(at, buf)
}

type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

type writerAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

func copyRange(dst writerAt, src readerAt, off, n int64, bufferSize int) error {
	buf := make([]byte, min(int64(bufferSize), n))
	for n > 0 {
		chunk := buf[:min(int64(len(buf)), n)]
		if _, err := src.ReadAt(chunk, off); err != nil {
			return errors.Wrapf(err, "read %d bytes at %d", len(chunk), off)
		}
		if _, err := dst.WriteAt(chunk, off); err != nil {
			return errors.Wrapf(err, "write %d bytes at %d", len(chunk), off)
		}
		off += int64(len(chunk))
		n -= int64(len(chunk))
	}
	return nil
}

// Builds the index of path in place, running every step
func BuildFile(path string, settings Settings, logger *zap.SugaredLogger) error {
	b := NewBuilder(settings, logger)
	if err := b.Start(path, path); err != nil {
		return err
	}
	for !b.End() {
		if err := b.Next(); err != nil {
			return err
		}
	}
	return b.Close()
}

// Reports whether path has a readable index which addresses every point of
// the file
func HasIndex(path string) bool {
	f, err := las.Open(path)
	if err != nil {
		return false
	}
	count := f.PointCount()
	f.Close()

	idx := New()
	if err := idx.ReadFile(IndexPath(path)); err != nil {
		return false
	}
	return idx.PointCount() == count
}
