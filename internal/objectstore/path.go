package objectstore

import (
	"fmt"
	"strings"
	"time"
)

const partitionLayout = "2006/01/02"

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

// BuildPath returns `category/YYYY/MM/DD/filename` for the UTC date of partition.
func BuildPath(category string, partition time.Time, filename string) (string, error) {
	if !validSegment(category) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidKey, category)
	}
	if !validSegment(filename) {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidKey, filename)
	}
	return fmt.Sprintf(
		"%s/%s/%s",
		category,
		partition.UTC().Format(partitionLayout),
		filename,
	), nil
}

// ParsePath is the inverse of BuildPath, ok is false for keys that are not
// partition paths.
func ParsePath(path string) (category string, partition time.Time, filename string, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 5 {
		return "", time.Time{}, "", false
	}
	if !validSegment(parts[0]) || !validSegment(parts[4]) {
		return "", time.Time{}, "", false
	}
	date, err := time.Parse(partitionLayout, strings.Join(parts[1:4], "/"))
	if err != nil {
		return "", time.Time{}, "", false
	}
	return parts[0], date, parts[4], true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
