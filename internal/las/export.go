package las

import (
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Point written by an Exporter, in world coordinates
type ExportPoint struct {
	Position       r3.Vector
	Intensity      uint16
	ReturnNumber   uint8
	NumberOfReturn uint8
	Classification uint8
	SourceID       uint16
	Red            uint16
	Green          uint16
	Blue           uint16
}

// Exporter writes query results to a new LAS file through lidario
type Exporter struct {
	lf        *lidario.LasFile
	withColor bool
	count     int
}

func NewExporter(path string, withColor bool) (*Exporter, error) {
	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return nil, errors.Wrap(err, "create export")
	}

	format := 0
	if withColor {
		format = 2
	}
	if err := lf.AddHeader(lidario.LasHeader{PointFormatID: byte(format)}); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "export header"), lf.Close())
	}
	return &Exporter{lf: lf, withColor: withColor}, nil
}

func (e *Exporter) Add(p *ExportPoint) error {
	rn := p.ReturnNumber
	if rn == 0 {
		rn = 1
	}
	nr := p.NumberOfReturn
	if nr == 0 {
		nr = 1
	}

	var lp lidario.LasPointer
	pr0 := &lidario.PointRecord0{
		X:         p.Position.X,
		Y:         p.Position.Y,
		Z:         p.Position.Z,
		Intensity: p.Intensity,
		BitField: lidario.PointBitField{
			Value: (rn & 7) | (nr&7)<<3,
		},
		ClassBitField: lidario.ClassificationBitField{
			Value: p.Classification & 31,
		},
		PointSourceID: p.SourceID,
	}
	lp = pr0
	if e.withColor {
		lp = &lidario.PointRecord2{
			PointRecord0: pr0,
			RGB: &lidario.RgbData{
				Red:   p.Red,
				Green: p.Green,
				Blue:  p.Blue,
			},
		}
	}
	if err := e.lf.AddLasPoint(lp); err != nil {
		return errors.Wrap(err, "export point")
	}
	e.count++
	return nil
}

func (e *Exporter) Count() int {
	return e.count
}

func (e *Exporter) Close() error {
	return errors.Wrap(e.lf.Close(), "close export")
}
