package las

import (
	"encoding/binary"
	"math"
)

// Decoded point data record. Coordinates are the raw integers of the file.
type Point struct {
	X int32
	Y int32
	Z int32

	Intensity           uint16
	ReturnNumber        uint8
	NumberOfReturns     uint8
	ScanDirectionFlag   uint8
	EdgeOfFlightLine    uint8
	ClassificationFlags uint8
	ScannerChannel      uint8
	ScanAngle           int16
	SourceID            uint16
	Classification      uint8
	UserData            uint8
	GPSTime             float64

	Red   uint16
	Green uint16
	Blue  uint16
	NIR   uint16
}

func rgbOffset(format uint8) int {
	switch format {
	case 2:
		return 20
	case 3, 5:
		return 28
	case 7, 8, 10:
		return 30
	}
	return -1
}

// Decodes one record of the given format from b
func DecodePoint(b []byte, format uint8, p *Point) {
	le := binary.LittleEndian
	p.X = int32(le.Uint32(b[0:]))
	p.Y = int32(le.Uint32(b[4:]))
	p.Z = int32(le.Uint32(b[8:]))
	p.Intensity = le.Uint16(b[12:])

	if format < 6 {
		p.ReturnNumber = b[14] & 7
		p.NumberOfReturns = (b[14] >> 3) & 7
		p.ScanDirectionFlag = (b[14] >> 6) & 1
		p.EdgeOfFlightLine = b[14] >> 7
		p.Classification = b[15] & 31
		p.ClassificationFlags = b[15] >> 5
		p.ScannerChannel = 0
		p.ScanAngle = int16(int8(b[16]))
		p.UserData = b[17]
		p.SourceID = le.Uint16(b[18:])
		p.GPSTime = 0
		if format == 1 || format == 3 || format == 4 || format == 5 {
			p.GPSTime = math.Float64frombits(le.Uint64(b[20:]))
		}
	} else {
		p.ReturnNumber = b[14] & 15
		p.NumberOfReturns = b[14] >> 4
		p.ClassificationFlags = b[15] & 15
		p.ScannerChannel = (b[15] >> 4) & 3
		p.ScanDirectionFlag = (b[15] >> 6) & 1
		p.EdgeOfFlightLine = b[15] >> 7
		p.Classification = b[16]
		p.UserData = b[17]
		p.ScanAngle = int16(le.Uint16(b[18:]))
		p.SourceID = le.Uint16(b[20:])
		p.GPSTime = math.Float64frombits(le.Uint64(b[22:]))
	}

	p.Red, p.Green, p.Blue, p.NIR = 0, 0, 0, 0
	if o := rgbOffset(format); o >= 0 {
		p.Red = le.Uint16(b[o:])
		p.Green = le.Uint16(b[o+2:])
		p.Blue = le.Uint16(b[o+4:])
		if format == 8 || format == 10 {
			p.NIR = le.Uint16(b[o+6:])
		}
	}
}

// Encodes the standard fields of p into b. Wave packet and extra bytes are
// left untouched.
func EncodePoint(p *Point, format uint8, b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(p.X))
	le.PutUint32(b[4:], uint32(p.Y))
	le.PutUint32(b[8:], uint32(p.Z))
	le.PutUint16(b[12:], p.Intensity)

	if format < 6 {
		b[14] = (p.ReturnNumber & 7) | (p.NumberOfReturns&7)<<3 |
			(p.ScanDirectionFlag&1)<<6 | (p.EdgeOfFlightLine&1)<<7
		b[15] = (p.Classification & 31) | (p.ClassificationFlags&7)<<5
		b[16] = byte(int8(p.ScanAngle))
		b[17] = p.UserData
		le.PutUint16(b[18:], p.SourceID)
		if format == 1 || format == 3 || format == 4 || format == 5 {
			le.PutUint64(b[20:], math.Float64bits(p.GPSTime))
		}
	} else {
		b[14] = (p.ReturnNumber & 15) | p.NumberOfReturns<<4
		b[15] = (p.ClassificationFlags & 15) | (p.ScannerChannel&3)<<4 |
			(p.ScanDirectionFlag&1)<<6 | (p.EdgeOfFlightLine&1)<<7
		b[16] = p.Classification
		b[17] = p.UserData
		le.PutUint16(b[18:], uint16(p.ScanAngle))
		le.PutUint16(b[20:], p.SourceID)
		le.PutUint64(b[22:], math.Float64bits(p.GPSTime))
	}

	if o := rgbOffset(format); o >= 0 {
		le.PutUint16(b[o:], p.Red)
		le.PutUint16(b[o+2:], p.Green)
		le.PutUint16(b[o+4:], p.Blue)
		if format == 8 || format == 10 {
			le.PutUint16(b[o+6:], p.NIR)
		}
	}
}

// Raw coordinates of a record without decoding the rest
func RecordXYZ(b []byte) (x, y, z int32) {
	le := binary.LittleEndian
	return int32(le.Uint32(b[0:])), int32(le.Uint32(b[4:])), int32(le.Uint32(b[8:]))
}

// Rewrites only the classification of a record in place
func SetRecordClassification(b []byte, format uint8, class uint8) {
	if format < 6 {
		b[15] = (b[15] &^ 31) | (class & 31)
	} else {
		b[16] = class
	}
}

func RecordIntensity(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b[12:])
}

func SetRecordIntensity(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b[12:], v)
}

// Color channels of a record, ok is false for formats without color
func RecordRGB(b []byte, format uint8) (r, g, bl uint16, ok bool) {
	o := rgbOffset(format)
	if o < 0 {
		return 0, 0, 0, false
	}
	le := binary.LittleEndian
	return le.Uint16(b[o:]), le.Uint16(b[o+2:]), le.Uint16(b[o+4:]), true
}

func SetRecordRGB(b []byte, format uint8, r, g, bl uint16) {
	o := rgbOffset(format)
	if o < 0 {
		return
	}
	le := binary.LittleEndian
	le.PutUint16(b[o:], r)
	le.PutUint16(b[o+2:], g)
	le.PutUint16(b[o+4:], bl)
}
