package recorder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseHHMM parses "HH:MM" into hour/minute, matching _parse_hhmm's
// validation (0-23 hours, 0-59 minutes).
func ParseHHMM(value, label string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%s must be in HH:MM format (got %q)", label, value)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%s must be a valid 24h time (got %q)", label, value)
	}
	return hour, minute, nil
}

// ComputeWindow derives [start, end) for now in loc, given HH:MM start/end
// and a day offset added to the end time, matching recorder.py's
// compute_window (end rolls to the next day if it would not be after start).
func ComputeWindow(now time.Time, startHHMM, endHHMM string, endDayOffset int, loc *time.Location) (start, end time.Time, err error) {
	now = now.In(loc)
	sh, sm, err := ParseHHMM(startHHMM, "WINDOW_START_HHMM")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseHHMM(endHHMM, "WINDOW_END_HHMM")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start = time.Date(now.Year(), now.Month(), now.Day(), sh, sm, 0, 0, loc)
	end = time.Date(now.Year(), now.Month(), now.Day(), eh, em, 0, 0, loc).AddDate(0, 0, endDayOffset)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

// ResolveWindow applies recorder.py's run_recorder "is now within yesterday's
// window instead" fallback: if now precedes today's window start, check
// whether now still falls within the window computed from yesterday.
func ResolveWindow(now time.Time, startHHMM, endHHMM string, endDayOffset int, loc *time.Location) (start, end time.Time, err error) {
	start, end, err = ComputeWindow(now, startHHMM, endHHMM, endDayOffset, loc)
	if err != nil {
		return
	}
	if now.Before(start) {
		prevStart := start.AddDate(0, 0, -1)
		prevEnd := end.AddDate(0, 0, -1)
		if !now.After(prevEnd) {
			return prevStart, prevEnd, nil
		}
	}
	return start, end, nil
}
