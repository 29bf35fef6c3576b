package subscription

import (
	"testing"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionRegistry(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, err := GetRegistryInstance()
	assert.Nil(err)

	client1 := uuid.New().String()
	client2 := uuid.New().String()

	// Case 0: empty registry
	assert.Equal(0, uut.ActiveClients())
	assert.Empty(uut.AllSubscribedStops())
	_, ok := uut.StopsFor(client1)
	assert.False(ok)

	// Case 1: register a client
	uut.Set(client1, []string{"stopA", "stopB"})
	assert.Equal(1, uut.ActiveClients())
	stops, ok := uut.StopsFor(client1)
	assert.True(ok)
	assert.Equal([]string{"stopA", "stopB"}, stops)

	// Case 2: set replaces wholesale, no merging
	uut.Set(client1, []string{"stopC"})
	stops, ok = uut.StopsFor(client1)
	assert.True(ok)
	assert.Equal([]string{"stopC"}, stops)

	// Case 3: union across clients is deduplicated
	uut.Set(client1, []string{"stopA", "stopB"})
	uut.Set(client2, []string{"stopB", "stopD"})
	union := uut.AllSubscribedStops()
	assert.Len(union, 3)
	assert.ElementsMatch([]string{"stopA", "stopB", "stopD"}, union)

	// Case 4: snapshot copies do not alias internal state
	snapshot := uut.Snapshot()
	assert.Len(snapshot, 2)
	snapshot[client1][0] = "mutated"
	stops, _ = uut.StopsFor(client1)
	assert.Equal([]string{"stopA", "stopB"}, stops)

	// Case 5: removal only touches the targeted client
	uut.Remove(client1)
	assert.Equal(1, uut.ActiveClients())
	_, ok = uut.StopsFor(client1)
	assert.False(ok)
	stops, ok = uut.StopsFor(client2)
	assert.True(ok)
	assert.Equal([]string{"stopB", "stopD"}, stops)

	// Case 6: remove of an unknown client is a no-op
	uut.Remove(uuid.New().String())
	assert.Equal(1, uut.ActiveClients())
}
