package editorial

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDailyWindows is the publish window set used when none is configured.
const DefaultDailyWindows = "07:30,16:30,20:30"

// Window is a daily UTC time-of-day slot at which scheduled content may go live.
type Window struct {
	Hour   int
	Minute int
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// ParseDailyWindows parses a comma-separated list of HH:MM tokens into a
// sorted, de-duplicated window set. An empty raw value falls back to
// DefaultDailyWindows; a set that parses to nothing is a configuration error.
func ParseDailyWindows(raw string) ([]Window, error) {
	if strings.TrimSpace(raw) == "" {
		raw = DefaultDailyWindows
	}

	seen := make(map[Window]struct{})
	var windows []Window
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		pieces := strings.Split(token, ":")
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid publish window format: %q", token)
		}
		hour, err := strconv.Atoi(pieces[0])
		if err != nil {
			return nil, fmt.Errorf("invalid publish window format: %q", token)
		}
		minute, err := strconv.Atoi(pieces[1])
		if err != nil {
			return nil, fmt.Errorf("invalid publish window format: %q", token)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid publish window value: %q", token)
		}
		w := Window{Hour: hour, Minute: minute}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		windows = append(windows, w)
	}

	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one daily publish window is required")
	}

	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Hour != windows[j].Hour {
			return windows[i].Hour < windows[j].Hour
		}
		return windows[i].Minute < windows[j].Minute
	})
	return windows, nil
}

// WindowKey formats an instant as the canonical YYYYMMDD-HHMM UTC dedup key.
func WindowKey(t time.Time) string {
	return t.UTC().Format("20060102-1504")
}

// NextPublishWindow returns the earliest window instant strictly after now,
// wrapping to the first window of the next day when today's windows are
// exhausted. An exact match rolls forward, so a tick landing precisely on a
// window boundary can never schedule into the window that just fired.
func NextPublishWindow(now time.Time, windows []Window) (time.Time, string) {
	now = now.UTC()
	for _, w := range windows {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), w.Hour, w.Minute, 0, 0, time.UTC)
		if now.Before(candidate) {
			return candidate, WindowKey(candidate)
		}
	}

	first := windows[0]
	nextDay := now.AddDate(0, 0, 1)
	candidate := time.Date(nextDay.Year(), nextDay.Month(), nextDay.Day(), first.Hour, first.Minute, 0, 0, time.UTC)
	return candidate, WindowKey(candidate)
}
