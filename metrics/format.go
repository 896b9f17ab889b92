package metrics

import (
	"fmt"
	"math"
)

// FormatBytes renders n with a B, KB, MB or GB unit and one decimal.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	for _, suffix := range []string{"KB", "MB"} {
		v /= unit
		if v < unit {
			return fmt.Sprintf("%.1f %s", v, suffix)
		}
	}
	return fmt.Sprintf("%.1f GB", v/unit)
}

func float64FromBits(b uint64) float64 { return math.Float64frombits(b) }
