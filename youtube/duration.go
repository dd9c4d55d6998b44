package youtube

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultShortFormThreshold is the duration at or below which a video counts
// as short-form.
const DefaultShortFormThreshold = 180 * time.Second

var durationRe = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// DurationSeconds converts an ISO-8601 duration such as "PT1H2M3S" to seconds.
// Missing components count as zero; an unparseable token yields 0.
func DurationSeconds(token string) int {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return 0
	}
	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	seconds, _ := strconv.Atoi(m[4])
	return days*86400 + hours*3600 + minutes*60 + seconds
}

// IsShortForm reports whether token's duration is at or below threshold.
func IsShortForm(token string, threshold time.Duration) bool {
	return time.Duration(DurationSeconds(token))*time.Second <= threshold
}

// ParseCount converts a decimal count string to int64, returning 0 when the
// value is absent or malformed.
func ParseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
