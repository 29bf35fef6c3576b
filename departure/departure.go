package departure

import (
	"sort"
	"strings"
	"time"
)

// Departure a normalized record of one upcoming arrival at a stop
type Departure struct {
	// StopID is the stop this departure belongs to
	StopID string `json:"stopID"`
	// ScheduledTime is the timetabled departure time
	ScheduledTime time.Time `json:"scheduledTime"`
	// PredictedTime is the real-time predicted departure time
	PredictedTime time.Time `json:"predictedTime"`
	// RouteLabel is the public label of the serving route
	RouteLabel string `json:"routeLabel"`
	// Headsign is the direction / destination shown to riders
	Headsign string `json:"headsign"`
}

// RawRecord an upstream departure record before normalization. The fetch
// gateway performs wire-format parsing only; field shaping happens in
// Normalize.
type RawRecord struct {
	// StopRef is the upstream reference for the stop
	StopRef string
	// RouteID is the upstream route identifier
	RouteID string
	// DirectionCode is the single letter direction marker, if any
	DirectionCode string
	// ScheduledUnix is the timetabled time as UNIX seconds
	ScheduledUnix int64
	// PredictedUnix is the predicted time as UNIX seconds
	PredictedUnix int64
}

// directionHeadsign maps upstream direction markers to rider facing labels
var directionHeadsign = map[string]string{
	"N": "Northbound",
	"S": "Southbound",
	"E": "Eastbound",
	"W": "Westbound",
}

// Normalize convert raw upstream records into per-stop departure lists.
// Records already in the past relative to refTime are dropped, and each
// stop's list is ordered by predicted time. Stops for which every record
// was dropped do not appear in the result.
func Normalize(records []RawRecord, refTime time.Time) map[string][]Departure {
	result := make(map[string][]Departure)
	for _, record := range records {
		stopID := strings.TrimSpace(record.StopRef)
		if stopID == "" {
			continue
		}
		predicted := time.Unix(record.PredictedUnix, 0)
		if predicted.Before(refTime) {
			continue
		}
		scheduled := predicted
		if record.ScheduledUnix > 0 {
			scheduled = time.Unix(record.ScheduledUnix, 0)
		}
		result[stopID] = append(result[stopID], Departure{
			StopID:        stopID,
			ScheduledTime: scheduled,
			PredictedTime: predicted,
			RouteLabel:    strings.TrimSpace(record.RouteID),
			Headsign:      directionHeadsign[record.DirectionCode],
		})
	}
	for stopID := range result {
		entries := result[stopID]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].PredictedTime.Before(entries[j].PredictedTime)
		})
	}
	return result
}
