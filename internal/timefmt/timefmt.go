// Package timefmt renders timestamps for operator-facing output.
package timefmt

import "time"

// Moscow has no DST, so a fixed zone avoids a tzdata dependency.
var moscow = time.FixedZone("MSK", 3*60*60)

func Moscow(millis int64) string {
	return time.UnixMilli(millis).In(moscow).Format("02.01.2006, 15:04:05")
}

// MoscowOrNA renders a nullable timestamp, "N/A" when unset.
func MoscowOrNA(millis *int64) string {
	if millis == nil {
		return "N/A"
	}
	return Moscow(*millis)
}
