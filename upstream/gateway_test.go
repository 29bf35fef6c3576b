package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/apex/log"
	"github.com/depboard/depboard/common"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/proto"
)

// buildTestFeed a FeedMessage with one trip serving the given stop refs
func buildTestFeed(t *testing.T, routeID string, stopRefs []string) []byte {
	stopTimes := make([]*gtfs.TripUpdate_StopTimeUpdate, 0, len(stopRefs))
	for idx, stopRef := range stopRefs {
		stopTimes = append(stopTimes, &gtfs.TripUpdate_StopTimeUpdate{
			StopId: proto.String(stopRef),
			Arrival: &gtfs.TripUpdate_StopTimeEvent{
				Time:  proto.Int64(1700000300 + int64(idx)*60),
				Delay: proto.Int32(30),
			},
		})
	}
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("entity-1"),
				TripUpdate: &gtfs.TripUpdate{
					Trip:           &gtfs.TripDescriptor{RouteId: proto.String(routeID)},
					StopTimeUpdate: stopTimes,
				},
			},
		},
	}
	data, err := proto.Marshal(feed)
	assert.Nil(t, err)
	return data
}

func TestGTFSRealtimeGatewayFetch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	var requestCount int32
	var seenAPIKey atomic.Value
	feedPayload := buildTestFeed(t, "L", []string{"L08N", "L08S", "L10N"})
	testServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			seenAPIKey.Store(r.Header.Get("x-api-key"))
			_, _ = w.Write(feedPayload)
		},
	))
	defer testServer.Close()

	config := common.UpstreamConfig{
		FeedURLs:       []string{testServer.URL},
		RequestTimeout: 5,
		APIKeyHeader:   "x-api-key",
	}
	uut, err := GetGTFSRealtimeGateway(config, "unit-test-key")
	assert.Nil(err)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: empty stop set short-circuits with no network traffic
	records, err := uut.Fetch(ctxt, []string{})
	assert.Nil(err)
	assert.Empty(records)
	assert.Equal(int32(0), atomic.LoadInt32(&requestCount))

	// Case 1: only the wanted stops come back, with the credential attached
	records, err = uut.Fetch(ctxt, []string{"L08"})
	assert.Nil(err)
	assert.Equal(int32(1), atomic.LoadInt32(&requestCount))
	assert.Equal("unit-test-key", seenAPIKey.Load())
	assert.Len(records, 2)
	for _, record := range records {
		assert.Equal("L08", record.StopRef)
		assert.Equal("L", record.RouteID)
	}

	// Case 2: direction markers and delays are carried through
	assert.Equal("N", records[0].DirectionCode)
	assert.Equal(int64(1700000300), records[0].PredictedUnix)
	assert.Equal(int64(1700000270), records[0].ScheduledUnix)

	// Case 3: stops absent from the feed are silently absent
	records, err = uut.Fetch(ctxt, []string{"Q99"})
	assert.Nil(err)
	assert.Empty(records)
}

func TestGTFSRealtimeGatewayPartialFailure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	goodPayload := buildTestFeed(t, "G", []string{"G22N"})
	goodServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(goodPayload)
		},
	))
	defer goodServer.Close()
	badServer := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	))
	defer badServer.Close()

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case 0: one feed failing still yields the other feed's records
	{
		config := common.UpstreamConfig{
			FeedURLs:       []string{goodServer.URL, badServer.URL},
			RequestTimeout: 5,
			APIKeyHeader:   "x-api-key",
		}
		uut, err := GetGTFSRealtimeGateway(config, "unit-test-key")
		assert.Nil(err)
		records, err := uut.Fetch(ctxt, []string{"G22"})
		assert.Nil(err)
		assert.Len(records, 1)
	}

	// Case 1: every feed failing is reported to the caller
	{
		config := common.UpstreamConfig{
			FeedURLs:       []string{badServer.URL},
			RequestTimeout: 5,
			APIKeyHeader:   "x-api-key",
		}
		uut, err := GetGTFSRealtimeGateway(config, "unit-test-key")
		assert.Nil(err)
		_, err = uut.Fetch(ctxt, []string{"G22"})
		assert.NotNil(err)
	}
}
