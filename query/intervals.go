package query

import (
	"time"
)

const minuteInterval = time.Minute
const tenSeconds = 10 * time.Second

// ValidateInterval checks the interval against the resolution rules.
// Without minute resolution the interval has to be a whole number of
// hours; with it, a multiple of the ten second storage granularity.
// Either way it must divide a day evenly so buckets stay aligned
// across days.
func ValidateInterval(interval time.Duration, minuteResolution bool) error {
	if interval <= 0 {
		return invalidParams("Interval cannot result in a zero duration.")
	}
	if !minuteResolution {
		if interval%time.Hour != 0 {
			return invalidParams("The interval has to be a multiple of the minimum interval of one hour.")
		}
	} else if interval%tenSeconds != 0 {
		return invalidParams("The interval has to be a multiple of the minimum interval of ten seconds.")
	}
	if (24*time.Hour)%interval != 0 {
		return invalidParams("The interval should divide one day without a remainder.")
	}
	return nil
}

// Window is the resolved bucketing of a query: the aligned data
// window, the effective interval and the bucket start times.
type Window struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
	Buckets  []time.Time

	// ResponseEnd is the end timestamp reported back to the caller:
	// min(end, now) rounded up to the next minute.
	ResponseEnd time.Time
}

// DataEnd is the exclusive upper bound of sessions contributing to
// the window.
func (w *Window) DataEnd() time.Time {
	if len(w.Buckets) == 0 {
		return w.Start
	}
	return w.Buckets[len(w.Buckets)-1].Add(w.Interval)
}

// ComputeWindow aligns the requested range to bucket boundaries.
//
// Intervals of an hour and up snap both ends outward to the interval
// rounded up to whole hours, so the range always covers whole
// buckets. Sub-hour intervals snap the end up to the next minute (the
// effective window of a fine query is rounded up to a whole minute)
// and the start down to the interval, so the first boundary never
// lands after the query start.
//
// Buckets past the current time are never materialized: the response
// ends at min(end, now) rounded up to the next minute.
func ComputeWindow(start, end, now time.Time, interval time.Duration, maxBuckets int) (*Window, error) {
	start, end, now = start.UTC(), end.UTC(), now.UTC()

	var alignedStart, alignedEnd time.Time
	if interval < time.Hour {
		alignedEnd = ceilTime(end, time.Minute)
		alignedStart = start.Truncate(interval)
	} else {
		rounding := ceilDuration(interval, time.Hour)
		alignedEnd = ceilTime(end, rounding)
		alignedStart = alignedEnd.Add(-ceilDuration(end.Sub(start), rounding))
	}
	if !alignedStart.Before(alignedEnd) {
		alignedEnd = alignedStart.Add(interval)
	}

	if int64(alignedEnd.Sub(alignedStart)/interval) > int64(maxBuckets) {
		return nil, errTooManyBuckets()
	}

	responseEnd := end
	if now.Before(responseEnd) {
		responseEnd = now
	}
	responseEnd = ceilTime(responseEnd, time.Minute)

	w := &Window{Start: alignedStart, End: alignedEnd, Interval: interval, ResponseEnd: responseEnd}
	for t := alignedStart; t.Before(alignedEnd) && t.Before(responseEnd); t = t.Add(interval) {
		w.Buckets = append(w.Buckets, t)
	}
	return w, nil
}

// ceilTime rounds t up to the next multiple of d.
func ceilTime(t time.Time, d time.Duration) time.Time {
	rounded := t.Truncate(d)
	if rounded.Before(t) {
		rounded = rounded.Add(d)
	}
	return rounded
}

// ceilDuration rounds v up to the next multiple of d.
func ceilDuration(v, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	rounded := v / d * d
	if rounded < v {
		rounded += d
	}
	return rounded
}
