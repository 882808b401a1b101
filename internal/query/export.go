package query

import (
	"math"

	"go.uber.org/multierr"

	"github.com/ecopia-map/pointdb/internal/las"
)

func u16(v float64) uint16 {
	return uint16(math.Round(min(max(v, 0), 1) * 65535))
}

// Writes every point of the current selection to a new LAS file at path and
// rewinds the query. Returns the number of exported points.
func (q *Query) Export(path string, withColor bool) (n int, err error) {
	e, err := las.NewExporter(path, withColor)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, e.Close())
	}()

	q.Reset()
	defer q.Reset()

	for q.Next() {
		v, err := q.Point()
		if err != nil {
			return e.Count(), err
		}
		c := v.Color()
		if err := e.Add(&las.ExportPoint{
			Position:       v.Position(),
			Intensity:      u16(v.Intensity()),
			ReturnNumber:   v.ReturnNumber(),
			NumberOfReturn: v.NumberOfReturns(),
			Classification: v.Classification(),
			SourceID:       uint16(v.DatasetID()),
			Red:            u16(c[0]),
			Green:          u16(c[1]),
			Blue:           u16(c[2]),
		}); err != nil {
			return e.Count(), err
		}
	}
	q.logger.Infow("exported", "path", path, "points", e.Count())
	return e.Count(), nil
}
