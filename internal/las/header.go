package las

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	headerSize12 = 227
	headerSize13 = 235
	headerSize14 = 375

	GeneratingSoftware = "pointdb"
)

var (
	ErrInvalidSignature  = errors.New("not a LAS file")
	ErrUnsupportedFormat = errors.New("unsupported point data record format")
	ErrCoordinateRange   = errors.New("coordinate does not fit the record at this scale and offset")
)

// Bytes used by the standard fields of each point data record format
var formatRecordLength = [...]int{20, 28, 26, 34, 57, 63, 30, 36, 38, 59, 67}

// LAS public header block, versions 1.0 to 1.4
type Header struct {
	FileSourceID      uint16
	GlobalEncoding    uint16
	ProjectID         [16]byte
	VersionMajor      uint8
	VersionMinor      uint8
	SystemIdentifier  [32]byte
	GeneratingSoft    [32]byte
	CreationDayOfYear uint16
	CreationYear      uint16

	HeaderSize              uint16
	OffsetToPointData       uint32
	NumberOfVLR             uint32
	PointDataRecordFormat   uint8
	PointDataRecordLength   uint16
	LegacyNumberOfPoints    uint32
	LegacyNumberOfByReturn  [5]uint32
	Scale                   r3.Vector
	Offset                  r3.Vector
	Max                     r3.Vector
	Min                     r3.Vector
	OffsetToWaveformData    uint64
	OffsetToEVLR            uint64
	NumberOfEVLR            uint32
	NumberOfPointRecords    uint64
	NumberOfPointsByReturns [15]uint64
}

// Builds an empty LAS 1.4 header for the given point format
func NewHeader(format uint8, scale, offset r3.Vector) (*Header, error) {
	if int(format) >= len(formatRecordLength) {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "format %d", format)
	}
	h := &Header{
		VersionMajor:          1,
		VersionMinor:          4,
		HeaderSize:            headerSize14,
		OffsetToPointData:     headerSize14,
		PointDataRecordFormat: format,
		PointDataRecordLength: uint16(formatRecordLength[format]),
		Scale:                 scale,
		Offset:                offset,
	}
	copy(h.SystemIdentifier[:], "OTHER")
	copy(h.GeneratingSoft[:], GeneratingSoftware)
	now := time.Now().UTC()
	h.CreationYear = uint16(now.Year())
	h.CreationDayOfYear = uint16(now.YearDay())
	return h, nil
}

// Size of the header defined by the file version
func (h *Header) VersionHeaderSize() int {
	if h.VersionMajor == 1 && h.VersionMinor >= 4 {
		return headerSize14
	}
	if h.VersionMajor == 1 && h.VersionMinor == 3 {
		return headerSize13
	}
	return headerSize12
}

// Bytes of the standard fields of the record format
func (h *Header) RecordLengthFormat() int {
	return formatRecordLength[h.PointDataRecordFormat]
}

// Extra bytes appended to each record after the standard fields
func (h *Header) RecordLengthUser() int {
	return int(h.PointDataRecordLength) - h.RecordLengthFormat()
}

func (h *Header) PointCount() uint64 {
	if h.VersionMajor == 1 && h.VersionMinor >= 4 && h.NumberOfPointRecords > 0 {
		return h.NumberOfPointRecords
	}
	return uint64(h.LegacyNumberOfPoints)
}

func (h *Header) SetPointCount(n uint64) {
	h.NumberOfPointRecords = n
	if n <= math.MaxUint32 && h.PointDataRecordFormat < 6 {
		h.LegacyNumberOfPoints = uint32(n)
	} else {
		h.LegacyNumberOfPoints = 0
	}
}

// Bytes occupied by point records
func (h *Header) PointDataSize() uint64 {
	return h.PointCount() * uint64(h.PointDataRecordLength)
}

func (h *Header) HasRGB() bool {
	switch h.PointDataRecordFormat {
	case 2, 3, 5, 7, 8, 10:
		return true
	}
	return false
}

func (h *Header) HasGPSTime() bool {
	return h.PointDataRecordFormat != 0 && h.PointDataRecordFormat != 2
}

func (h *Header) DateCreated() string {
	if h.CreationYear == 0 {
		return ""
	}
	t := time.Date(int(h.CreationYear), 1, 1, 0, 0, 0, 0, time.UTC)
	t = t.AddDate(0, 0, int(h.CreationDayOfYear)-1)
	return t.Format("2006-01-02")
}

func (h *Header) String() string {
	return fmt.Sprintf("LAS %d.%d format %d record %d points %d", h.VersionMajor, h.VersionMinor,
		h.PointDataRecordFormat, h.PointDataRecordLength, h.PointCount())
}

func (h *Header) decode(b []byte) error {
	if len(b) < headerSize12 || string(b[0:4]) != "LASF" {
		return ErrInvalidSignature
	}

	le := binary.LittleEndian
	h.FileSourceID = le.Uint16(b[4:])
	h.GlobalEncoding = le.Uint16(b[6:])
	copy(h.ProjectID[:], b[8:24])
	h.VersionMajor = b[24]
	h.VersionMinor = b[25]
	copy(h.SystemIdentifier[:], b[26:58])
	copy(h.GeneratingSoft[:], b[58:90])
	h.CreationDayOfYear = le.Uint16(b[90:])
	h.CreationYear = le.Uint16(b[92:])
	h.HeaderSize = le.Uint16(b[94:])
	h.OffsetToPointData = le.Uint32(b[96:])
	h.NumberOfVLR = le.Uint32(b[100:])
	h.PointDataRecordFormat = b[104] & 0x3f
	h.PointDataRecordLength = le.Uint16(b[105:])
	h.LegacyNumberOfPoints = le.Uint32(b[107:])
	for i := range h.LegacyNumberOfByReturn {
		h.LegacyNumberOfByReturn[i] = le.Uint32(b[111+4*i:])
	}
	f := func(o int) float64 { return math.Float64frombits(le.Uint64(b[o:])) }
	h.Scale = r3.Vector{X: f(131), Y: f(139), Z: f(147)}
	h.Offset = r3.Vector{X: f(155), Y: f(163), Z: f(171)}
	h.Max.X, h.Min.X = f(179), f(187)
	h.Max.Y, h.Min.Y = f(195), f(203)
	h.Max.Z, h.Min.Z = f(211), f(219)

	if int(h.PointDataRecordFormat) >= len(formatRecordLength) {
		return errors.Wrapf(ErrUnsupportedFormat, "format %d", h.PointDataRecordFormat)
	}
	if int(h.PointDataRecordLength) < h.RecordLengthFormat() {
		return errors.Errorf("record length %d shorter than format %d requires",
			h.PointDataRecordLength, h.PointDataRecordFormat)
	}

	size := h.VersionHeaderSize()
	if len(b) < size {
		return errors.Errorf("header of version %d.%d truncated", h.VersionMajor, h.VersionMinor)
	}
	if size >= headerSize13 {
		h.OffsetToWaveformData = le.Uint64(b[227:])
	}
	if size >= headerSize14 {
		h.OffsetToEVLR = le.Uint64(b[235:])
		h.NumberOfEVLR = le.Uint32(b[243:])
		h.NumberOfPointRecords = le.Uint64(b[247:])
		for i := range h.NumberOfPointsByReturns {
			h.NumberOfPointsByReturns[i] = le.Uint64(b[255+8*i:])
		}
	}
	return nil
}

func (h *Header) encode() []byte {
	size := h.VersionHeaderSize()
	b := make([]byte, size)

	le := binary.LittleEndian
	copy(b[0:4], "LASF")
	le.PutUint16(b[4:], h.FileSourceID)
	le.PutUint16(b[6:], h.GlobalEncoding)
	copy(b[8:24], h.ProjectID[:])
	b[24] = h.VersionMajor
	b[25] = h.VersionMinor
	copy(b[26:58], h.SystemIdentifier[:])
	copy(b[58:90], h.GeneratingSoft[:])
	le.PutUint16(b[90:], h.CreationDayOfYear)
	le.PutUint16(b[92:], h.CreationYear)
	le.PutUint16(b[94:], h.HeaderSize)
	le.PutUint32(b[96:], h.OffsetToPointData)
	le.PutUint32(b[100:], h.NumberOfVLR)
	b[104] = h.PointDataRecordFormat
	le.PutUint16(b[105:], h.PointDataRecordLength)
	le.PutUint32(b[107:], h.LegacyNumberOfPoints)
	for i, v := range h.LegacyNumberOfByReturn {
		le.PutUint32(b[111+4*i:], v)
	}
	f := func(o int, v float64) { le.PutUint64(b[o:], math.Float64bits(v)) }
	f(131, h.Scale.X)
	f(139, h.Scale.Y)
	f(147, h.Scale.Z)
	f(155, h.Offset.X)
	f(163, h.Offset.Y)
	f(171, h.Offset.Z)
	f(179, h.Max.X)
	f(187, h.Min.X)
	f(195, h.Max.Y)
	f(203, h.Min.Y)
	f(211, h.Max.Z)
	f(219, h.Min.Z)

	if size >= headerSize13 {
		le.PutUint64(b[227:], h.OffsetToWaveformData)
	}
	if size >= headerSize14 {
		le.PutUint64(b[235:], h.OffsetToEVLR)
		le.PutUint32(b[243:], h.NumberOfEVLR)
		le.PutUint64(b[247:], h.NumberOfPointRecords)
		for i, v := range h.NumberOfPointsByReturns {
			le.PutUint64(b[255+8*i:], v)
		}
	}
	return b
}
