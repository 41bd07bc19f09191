// Package organize renames image files after their capture time, resolved from
// EXIF metadata, a recognizable timestamp in the filename, or the file's mtime
// as the last resort.
package organize

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// filenamePatterns recognize timestamps commonly embedded in camera and
// messenger filenames. Ordered from most to least specific; the first match
// wins.
var filenamePatterns = []*regexp.Regexp{
	// YYYY-MM-DD HH:MM:SS
	regexp.MustCompile(`(\d{4})[_\-.](\d{2})[_\-.](\d{2})[_\-\s](\d{2}):(\d{2}):(\d{2})`),
	// YYYY-MM-DD_HH-MM-SS
	regexp.MustCompile(`(\d{4})[_\-.](\d{2})[_\-.](\d{2})[_\-](\d{2})[_\-](\d{2})[_\-](\d{2})`),
	// YYYY-MM-DD
	regexp.MustCompile(`(\d{4})[_\-.](\d{2})[_\-.](\d{2})`),
	// YYYYMMDD_HHMMSS with optional separators between time parts
	regexp.MustCompile(`(\d{4})(\d{2})(\d{2})[_\-]?(\d{2})[_\-]?(\d{2})[_\-]?(\d{2})`),
	// YYYYMMDD
	regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`),
	// DD-MM-YYYY HH:MM:SS
	regexp.MustCompile(`(\d{2})[_\-.](\d{2})[_\-.](\d{4})[_\-\s](\d{2}):(\d{2}):(\d{2})`),
}

// CaptureTime resolves when the image at path was taken. Resolution order:
// EXIF capture time, a timestamp parsed out of the filename, then the file's
// mtime. An error is returned only when even the stat fallback fails.
func CaptureTime(path string) (time.Time, error) {
	if dt, ok := exifTime(path); ok {
		return dt, nil
	}
	if dt, ok := TimeFromFilename(filepath.Base(path)); ok {
		return dt, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve capture time for %s: %w", path, err)
	}
	return info.ModTime(), nil
}

// exifTime reads the capture timestamp from EXIF metadata. goexif prefers
// DateTimeOriginal and falls back to DateTime itself. Unreadable or EXIF-less
// files simply report no timestamp.
func exifTime(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}
	dt, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return dt, true
}

// TimeFromFilename extracts a timestamp embedded in an image filename. A
// date-only match defaults the time of day to noon. A leading group above 31
// is treated as a year; otherwise the day-first pattern applies.
func TimeFromFilename(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	for _, pattern := range filenamePatterns {
		m := pattern.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		groups := m[1:]

		nums := make([]int, len(groups))
		for i, g := range groups {
			n, err := strconv.Atoi(g)
			if err != nil {
				nums = nil
				break
			}
			nums[i] = n
		}
		if nums == nil {
			continue
		}

		var dt time.Time
		switch {
		case nums[0] > 31 && len(nums) == 3:
			dt = time.Date(nums[0], time.Month(nums[1]), nums[2], 12, 0, 0, 0, time.Local)
		case nums[0] > 31 && len(nums) == 6:
			dt = time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], nums[5], 0, time.Local)
		case nums[0] <= 31 && len(nums) == 6:
			dt = time.Date(nums[2], time.Month(nums[1]), nums[0], nums[3], nums[4], nums[5], 0, time.Local)
		default:
			continue
		}
		if !validCalendarTime(dt, nums) {
			continue
		}
		return dt, true
	}
	return time.Time{}, false
}

// validCalendarTime rejects matches that time.Date silently normalized, such
// as month 13 or second 61 pulled out of an unrelated digit run.
func validCalendarTime(dt time.Time, nums []int) bool {
	var y, mo, d, h, mi, s int
	if nums[0] > 31 {
		y, mo, d = nums[0], nums[1], nums[2]
	} else {
		d, mo, y = nums[0], nums[1], nums[2]
	}
	if len(nums) == 6 {
		h, mi, s = nums[3], nums[4], nums[5]
	} else {
		h = 12
	}
	return dt.Year() == y && int(dt.Month()) == mo && dt.Day() == d &&
		dt.Hour() == h && dt.Minute() == mi && dt.Second() == s
}
