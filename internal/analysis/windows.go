package analysis

import (
	"time"

	"github.com/geowatch/geowatch/internal/job"
)

// Sentinel2Start is the first day of Sentinel-2 surface reflectance coverage.
var Sentinel2Start = time.Date(2015, 6, 23, 0, 0, 0, 0, time.UTC)

func window(start, end time.Time) *job.Period {
	return &job.Period{Start: start, End: end}
}

// CoastalWindows compares the last year against the year before it. The
// baseline never starts before Sentinel2Start.
func CoastalWindows(now time.Time) job.Periods {
	recentStart := now.AddDate(0, 0, -coastalRecentDays)
	baselineStart := recentStart.AddDate(0, 0, -coastalBaselineDays)
	if baselineStart.Before(Sentinel2Start) {
		baselineStart = Sentinel2Start
	}
	return job.Periods{
		Recent:   window(recentStart, now),
		Baseline: window(baselineStart, recentStart),
	}
}

// DeforestationWindows compares the last six days against the six before.
func DeforestationWindows(now time.Time) job.Periods {
	recentStart := now.AddDate(0, 0, -deforestationRecentDays)
	return job.Periods{
		Recent:   window(recentStart, now),
		Previous: window(recentStart.AddDate(0, 0, -deforestationPreviousDays), recentStart),
	}
}

// FireWindows looks back daysBack days.
func FireWindows(daysBack int) job.WindowPolicy {
	return func(now time.Time) job.Periods {
		return job.Periods{Recent: window(now.AddDate(0, 0, -daysBack), now)}
	}
}

// FloodingWindows compares the last two weeks against the same two weeks a
// year earlier.
func FloodingWindows(now time.Time) job.Periods {
	baselineEnd := now.AddDate(-floodBaselineOffsetYears, 0, 0)
	return job.Periods{
		Recent:   window(now.AddDate(0, 0, -floodRecentDays), now),
		Baseline: window(baselineEnd.AddDate(0, 0, -floodBaselineDays), baselineEnd),
	}
}

// GlacierWindows compares the last 90 days against six days a year earlier.
func GlacierWindows(now time.Time) job.Periods {
	return job.Periods{
		Recent:   window(now.AddDate(0, 0, -glacierRecentDays), now),
		Baseline: GlacierBaseline(now, glacierBaselineOffsetYears),
	}
}

// GlacierBaseline is the six-day glacier baseline yearsAgo years before now.
func GlacierBaseline(now time.Time, yearsAgo int) *job.Period {
	end := now.AddDate(-yearsAgo, 0, 0)
	return window(end.AddDate(0, 0, -glacierBaselineDays), end)
}
