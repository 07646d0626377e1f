package value

import (
	"fmt"
	"math"
	"time"

	"github.com/example/esedb/internal/errs"
)

// OLE Automation dates count days from 1899-12-30. The supported range is
// 100-01-01 through 9999-12-31.
const (
	oleDateMin = -657434
	oleDateMax = 2958465

	// ticksToUnixEpoch is the number of 100ns ticks between 1601-01-01 and
	// 1970-01-01.
	ticksToUnixEpoch = 116444736000000000
	ticksPerSecond   = 10_000_000

	windowsTicksLayout = "2006-01-02T15:04:05.0000000Z"
)

var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// OLEDate converts an OLE Automation date to UTC. The integer part counts
// days from the epoch; the magnitude of the fractional part is the time of
// day, so -1.25 is 1899-12-29 06:00. Sub-second time is rounded half to even
// to the microsecond.
func OLEDate(f float64) (time.Time, error) {
	if math.IsNaN(f) || f <= oleDateMin-1 || f >= oleDateMax+1 {
		return time.Time{}, fmt.Errorf("value: OLE date %v outside [%d, %d]: %w", f, oleDateMin, oleDateMax, errs.ErrOutOfRange)
	}
	days := math.Trunc(f)
	frac := math.Abs(f - days)
	micros := math.RoundToEven(frac * float64(24*time.Hour/time.Microsecond))
	return oleEpoch.AddDate(0, 0, int(days)).Add(time.Duration(micros) * time.Microsecond), nil
}

// FromWindowsTicks interprets ticks as 100ns intervals since 1601-01-01 UTC.
// Counts above the largest valid FILETIME, math.MaxInt64, are clamped to it.
func FromWindowsTicks(ticks uint64) time.Time {
	if ticks > math.MaxInt64 {
		ticks = math.MaxInt64
	}
	t := int64(ticks - ticksToUnixEpoch)
	if ticks < ticksToUnixEpoch {
		t = -int64(ticksToUnixEpoch - ticks)
	}
	sec, rem := t/ticksPerSecond, t%ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

// FormatWindowsTicks renders ticks as YYYY-MM-DDTHH:MM:SS.fffffffZ.
func FormatWindowsTicks(ticks uint64) string {
	return FromWindowsTicks(ticks).Format(windowsTicksLayout)
}
