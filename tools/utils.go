package tools

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

func FmtJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "marshal data fail"
	}
	return string(data)
}

const FloatMin = 0.000001

func IsFloatEqual(f1, f2 float64) bool {
	return math.Abs(f1-f2) < FloatMin
}

// Points per square unit over area, rounded to two decimals
func FormatDensity(points uint64, area float64) string {
	if area <= 0 || IsFloatEqual(area, 0) {
		return "0"
	}
	return decimal.NewFromInt(int64(points)).
		Div(decimal.NewFromFloat(area)).
		Round(2).
		String()
}
