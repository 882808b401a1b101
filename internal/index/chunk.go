package index

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/ecopia-map/pointdb/internal/geometry"
)

const (
	// "IDX8" read as a little endian u32
	ChunkType uint32 = 0x38584449

	ChunkMajorVersion uint8 = 1
	ChunkMinorVersion uint8 = 0

	ChunkHeaderSize   = 24
	PayloadHeaderSize = 104
	NodeRecordSize    = 64
)

var ErrInvalidChunk = errors.New("invalid index chunk")

// Header preceding every chunk of the index file
type ChunkHeader struct {
	Type         uint32
	MajorVersion uint8
	MinorVersion uint8
	HeaderLength uint32
	DataLength   uint64
}

func (h *ChunkHeader) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Type)
	b[4] = h.MajorVersion
	b[5] = h.MinorVersion
	binary.LittleEndian.PutUint16(b[6:], 0)
	binary.LittleEndian.PutUint32(b[8:], h.HeaderLength)
	binary.LittleEndian.PutUint32(b[12:], 0)
	binary.LittleEndian.PutUint64(b[16:], h.DataLength)
}

func (h *ChunkHeader) decode(b []byte) {
	h.Type = binary.LittleEndian.Uint32(b[0:])
	h.MajorVersion = b[4]
	h.MinorVersion = b[5]
	h.HeaderLength = binary.LittleEndian.Uint32(b[8:])
	h.DataLength = binary.LittleEndian.Uint64(b[16:])
}

func (h *ChunkHeader) validate() error {
	if h.Type != ChunkType {
		return errors.Wrapf(ErrInvalidChunk, "type %#x", h.Type)
	}
	if h.MajorVersion != ChunkMajorVersion {
		return errors.Wrapf(ErrInvalidChunk, "version %d.%d", h.MajorVersion, h.MinorVersion)
	}
	if h.HeaderLength < PayloadHeaderSize {
		return errors.Wrapf(ErrInvalidChunk, "header length %d", h.HeaderLength)
	}
	return nil
}

// Number of bytes Encode produces
func (idx *Index) EncodedSize() int64 {
	return ChunkHeaderSize + PayloadHeaderSize + int64(len(idx.nodes))*NodeRecordSize
}

// Serializes the index as one chunk. Boundaries are written untranslated.
func (idx *Index) Encode() []byte {
	buf := make([]byte, idx.EncodedSize())

	h := ChunkHeader{
		Type:         ChunkType,
		MajorVersion: ChunkMajorVersion,
		MinorVersion: ChunkMinorVersion,
		HeaderLength: PayloadHeaderSize,
		DataLength:   uint64(len(idx.nodes)) * NodeRecordSize,
	}
	h.encode(buf)

	p := buf[ChunkHeaderSize:]
	binary.LittleEndian.PutUint64(p, uint64(len(idx.nodes)))
	putBox(p[8:], idx.boundaryFile)
	putBox(p[56:], idx.boundaryPointsFile)

	p = p[PayloadHeaderSize:]
	for i := range idx.nodes {
		n := &idx.nodes[i]
		binary.LittleEndian.PutUint64(p[0:], n.From)
		binary.LittleEndian.PutUint64(p[8:], n.Size)
		binary.LittleEndian.PutUint64(p[16:], n.Offset)
		binary.LittleEndian.PutUint32(p[24:], n.Reserved)
		binary.LittleEndian.PutUint32(p[28:], n.Prev)
		for c := 0; c < 8; c++ {
			binary.LittleEndian.PutUint32(p[32+4*c:], n.Next[c])
		}
		p = p[NodeRecordSize:]
	}

	return buf
}

// Writes the encoded index at the current position of w
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(idx.Encode())
	return int64(n), errors.Wrap(err, "write index chunk")
}

// Node records read per call, bounds the allocation before the data is seen
const readBatch = 4096

// Size of r when it can tell, for bounding lengths read from a header
func readerSize(r io.ReaderAt) (int64, bool) {
	switch v := r.(type) {
	case interface{ Size() int64 }:
		return v.Size(), true
	case interface{ Stat() (os.FileInfo, error) }:
		if st, err := v.Stat(); err == nil {
			return st.Size(), true
		}
	}
	return 0, false
}

// Reads the chunk which starts at offset. A chunk whose lengths exceed the
// data available or whose node links leave the node array is rejected with
// ErrInvalidChunk.
func (idx *Index) ReadAt(r io.ReaderAt, offset int64) error {
	hb := make([]byte, ChunkHeaderSize)
	if _, err := r.ReadAt(hb, offset); err != nil {
		return errors.Wrapf(err, "read index chunk header at %d", offset)
	}

	var h ChunkHeader
	h.decode(hb)
	if err := h.validate(); err != nil {
		return err
	}
	if size, ok := readerSize(r); ok {
		avail := uint64(max(size-offset-ChunkHeaderSize, 0))
		if uint64(h.HeaderLength) > avail || h.DataLength > avail-uint64(h.HeaderLength) {
			return errors.Wrapf(ErrInvalidChunk, "chunk of %d bytes exceeds %d bytes available", uint64(h.HeaderLength)+h.DataLength, avail)
		}
	}

	payload := make([]byte, PayloadHeaderSize)
	if _, err := r.ReadAt(payload, offset+ChunkHeaderSize); err != nil {
		return errors.Wrapf(err, "read index chunk payload at %d", offset)
	}

	n := binary.LittleEndian.Uint64(payload)
	if n > h.DataLength/NodeRecordSize || n > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidChunk, "%d nodes do not fit %d bytes", n, h.DataLength)
	}

	idx.Clear()
	idx.boundaryFile = getBox(payload[8:])
	idx.boundary = idx.boundaryFile
	idx.boundaryPointsFile = getBox(payload[56:])
	idx.boundaryPoints = idx.boundaryPointsFile

	nodes := make([]Node, 0, min(n, readBatch))
	buf := make([]byte, min(n, readBatch)*NodeRecordSize)
	pos := offset + ChunkHeaderSize + int64(h.HeaderLength)
	for uint64(len(nodes)) < n {
		k := min(n-uint64(len(nodes)), readBatch)
		p := buf[:k*NodeRecordSize]
		if _, err := r.ReadAt(p, pos); err != nil {
			return errors.Wrapf(err, "read index nodes at %d", pos)
		}
		pos += int64(len(p))

		for ; len(p) > 0; p = p[NodeRecordSize:] {
			var node Node
			node.From = binary.LittleEndian.Uint64(p[0:])
			node.Size = binary.LittleEndian.Uint64(p[8:])
			node.Offset = binary.LittleEndian.Uint64(p[16:])
			node.Reserved = binary.LittleEndian.Uint32(p[24:])
			node.Prev = binary.LittleEndian.Uint32(p[28:])
			for c := 0; c < 8; c++ {
				node.Next[c] = binary.LittleEndian.Uint32(p[32+4*c:])
			}
			nodes = append(nodes, node)
		}
	}

	if err := checkLinks(nodes); err != nil {
		return err
	}
	idx.nodes = nodes
	return nil
}

// Children are numbered after their parent in both layouts, so every link
// has to point forward for children and backward for the parent
func checkLinks(nodes []Node) error {
	for i := range nodes {
		node := &nodes[i]
		if uint64(node.Prev) > uint64(i) {
			return errors.Wrapf(ErrInvalidChunk, "node %d has parent link %d", i, node.Prev)
		}
		for c, next := range node.Next {
			if next != 0 && (uint64(next) <= uint64(i) || uint64(next) >= uint64(len(nodes))) {
				return errors.Wrapf(ErrInvalidChunk, "node %d has child %d link %d", i, c, next)
			}
		}
	}
	return nil
}

// Reads the index stored at the beginning of the file
func (idx *Index) ReadFile(path string) error {
	return idx.ReadFileAt(path, 0)
}

func (idx *Index) ReadFileAt(path string, offset int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open index")
	}
	defer f.Close()

	return errors.Wrap(idx.ReadAt(f, offset), path)
}

// Creates or truncates path and writes the index as its only chunk
func (idx *Index) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create index")
	}
	if _, err := idx.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close index")
}

func putBox(b []byte, box geometry.Box) {
	v := [6]float64{box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z}
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
}

func getBox(b []byte) geometry.Box {
	var v [6]float64
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	box := geometry.Box{}
	box.Min.X, box.Min.Y, box.Min.Z = v[0], v[1], v[2]
	box.Max.X, box.Max.Y, box.Max.Z = v[3], v[4], v[5]
	return box
}
