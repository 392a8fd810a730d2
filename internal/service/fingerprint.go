package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/devrev/tierroute/internal/model"
)

// BucketWidths controls how coarsely metrics are grouped into one cacheable unit.
// A zero width keys on the exact value.
type BucketWidths struct {
	CPU       float64
	RAM       float64
	Bandwidth float64
}

// Fingerprint derives the cache key for a (device, metrics) pair.
// It is deterministic: equal inputs always produce the same key.
func Fingerprint(deviceID string, m model.Metrics, widths BucketWidths) string {
	var b strings.Builder
	b.Grow(len(deviceID) + 64)
	b.WriteString(deviceID)
	b.WriteByte('|')
	b.WriteString(bucket(m.CPULoad, widths.CPU))
	b.WriteByte('|')
	b.WriteString(bucket(m.RAMUsage, widths.RAM))
	b.WriteByte('|')
	b.WriteString(bucket(m.Bandwidth, widths.Bandwidth))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(int(m.QuerySize)))

	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

func bucket(v, width float64) string {
	if width <= 0 {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(math.Floor(v/width)), 10)
}
