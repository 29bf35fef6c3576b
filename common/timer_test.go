package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerPeriodic(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*40, callback))
	time.Sleep(time.Millisecond * 100)
	assert.GreaterOrEqual(atomic.LoadInt32(&value), int32(2))

	assert.Nil(uut.Stop())
	time.Sleep(time.Millisecond * 20)
	after := atomic.LoadInt32(&value)
	time.Sleep(time.Millisecond * 100)
	assert.Equal(after, atomic.LoadInt32(&value))
}

func TestIntervalTimerStopOnContextCancel(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	assert.Nil(uut.Start(time.Millisecond*20, func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}))
	time.Sleep(time.Millisecond * 50)
	cancel()
	// Loop goroutine must exit once the root context goes away
	wg.Wait()
	after := atomic.LoadInt32(&value)
	time.Sleep(time.Millisecond * 60)
	assert.Equal(after, atomic.LoadInt32(&value))
}
