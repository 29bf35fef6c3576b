package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/apex/log"
	"github.com/depboard/depboard/common"
	"github.com/depboard/depboard/departure"
	"google.golang.org/protobuf/proto"
)

// Gateway fetch departures for a set of stops from the upstream transit
// feeds. The gateway owns wire-format parsing; callers receive raw records
// which still need normalization.
type Gateway interface {
	// Fetch departure records for the requested stops. Stops not present in
	// the feeds are silently absent from the result. An empty request set
	// returns immediately without network traffic.
	Fetch(ctxt context.Context, stopIDs []string) ([]departure.RawRecord, error)
}

// gtfsRealtimeGatewayImpl implements Gateway against GTFS-Realtime feeds
type gtfsRealtimeGatewayImpl struct {
	common.Component
	feedURLs     []string
	apiKey       string
	apiKeyHeader string
	client       *http.Client
}

// GetGTFSRealtimeGateway create new gateway instance against GTFS-RT feeds
func GetGTFSRealtimeGateway(config common.UpstreamConfig, apiKey string) (Gateway, error) {
	if len(config.FeedURLs) == 0 {
		return nil, fmt.Errorf("no upstream feed URLs given")
	}
	logTags := log.Fields{
		"module": "upstream", "component": "gtfs-rt-gateway",
	}
	return &gtfsRealtimeGatewayImpl{
		Component:    common.Component{LogTags: logTags},
		feedURLs:     config.FeedURLs,
		apiKey:       apiKey,
		apiKeyHeader: config.APIKeyHeader,
		client: &http.Client{
			Timeout: time.Second * time.Duration(config.RequestTimeout),
		},
	}, nil
}

// Fetch departure records for the requested stops
func (g *gtfsRealtimeGatewayImpl) Fetch(
	ctxt context.Context, stopIDs []string,
) ([]departure.RawRecord, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(stopIDs))
	for _, stopID := range stopIDs {
		wanted[stopID] = true
	}

	records := []departure.RawRecord{}
	fetchedFeeds := 0
	for _, feedURL := range g.feedURLs {
		payload, err := g.fetchOneFeed(ctxt, feedURL)
		if err != nil {
			// Partial failure is tolerated. Stops served only by this feed
			// are simply not updated this round.
			log.WithError(err).WithFields(g.LogTags).Errorf(
				"Failed to fetch feed %s", feedURL,
			)
			continue
		}
		fetchedFeeds++
		records = append(records, filterFeedRecords(payload, wanted)...)
	}

	if fetchedFeeds == 0 {
		return nil, fmt.Errorf("all %d upstream feed fetches failed", len(g.feedURLs))
	}
	log.WithFields(g.LogTags).Debugf(
		"Collected %d records for %d stops", len(records), len(stopIDs),
	)
	return records, nil
}

// fetchOneFeed fetch and unmarshal a single GTFS-RT feed
func (g *gtfsRealtimeGatewayImpl) fetchOneFeed(
	ctxt context.Context, feedURL string,
) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctxt, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(g.apiKeyHeader, g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(data, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// filterFeedRecords pull raw records for the wanted stops out of a feed.
// Upstream stop references carry a trailing direction marker (e.g. "L08N");
// matching is done against the base stop reference.
func filterFeedRecords(feed *gtfs.FeedMessage, wanted map[string]bool) []departure.RawRecord {
	records := []departure.RawRecord{}
	for _, entity := range feed.Entity {
		tripUpdate := entity.GetTripUpdate()
		if tripUpdate == nil {
			continue
		}
		routeID := tripUpdate.GetTrip().GetRouteId()
		for _, stopTime := range tripUpdate.GetStopTimeUpdate() {
			stopRef, dirCode := splitStopRef(stopTime.GetStopId())
			if !wanted[stopRef] {
				continue
			}
			event := stopTime.GetArrival()
			if event == nil {
				event = stopTime.GetDeparture()
			}
			if event == nil || event.Time == nil {
				continue
			}
			predicted := event.GetTime()
			records = append(records, departure.RawRecord{
				StopRef:       stopRef,
				RouteID:       routeID,
				DirectionCode: dirCode,
				ScheduledUnix: predicted - int64(event.GetDelay()),
				PredictedUnix: predicted,
			})
		}
	}
	return records
}

// splitStopRef separate the base stop reference from its direction marker
func splitStopRef(stopRef string) (string, string) {
	if len(stopRef) < 2 {
		return stopRef, ""
	}
	dirCode := stopRef[len(stopRef)-1:]
	switch dirCode {
	case "N", "S", "E", "W":
		return stopRef[:len(stopRef)-1], dirCode
	}
	return stopRef, ""
}
