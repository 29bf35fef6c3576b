package departure

import (
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestDepartureCache(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, err := GetDepartureCacheInstance()
	assert.Nil(err)

	// Case 0: unknown stop
	assert.False(uut.Has("stopA"))
	_, ok := uut.Get("stopA")
	assert.False(ok)

	// Case 1: store and read back
	entry := []Departure{
		{StopID: "stopA", RouteLabel: "L", PredictedTime: time.Unix(1700000060, 0)},
	}
	uut.Set("stopA", entry)
	assert.True(uut.Has("stopA"))
	cached, ok := uut.Get("stopA")
	assert.True(ok)
	assert.Equal(entry, cached)

	// Case 2: set is whole-entry overwrite, not additive
	replacement := []Departure{
		{StopID: "stopA", RouteLabel: "G", PredictedTime: time.Unix(1700000120, 0)},
	}
	uut.Set("stopA", replacement)
	cached, ok = uut.Get("stopA")
	assert.True(ok)
	assert.Equal(replacement, cached)

	// Case 3: returned slices do not alias the cached entry
	cached[0].RouteLabel = "mutated"
	fresh, _ := uut.Get("stopA")
	assert.Equal("G", fresh[0].RouteLabel)

	// Case 4: an empty list is still a cache entry
	uut.Set("stopB", []Departure{})
	assert.True(uut.Has("stopB"))
	cached, ok = uut.Get("stopB")
	assert.True(ok)
	assert.Empty(cached)
}
