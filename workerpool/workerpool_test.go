package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSingleDropsConcurrentTrigger(t *testing.T) {
	var running sync.WaitGroup
	running.Add(1)
	release := make(chan struct{})
	var runs int
	var mu sync.Mutex

	s := NewSingle(func(ctx context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
		running.Done()
		<-release
	})

	s.Trigger(context.Background())
	running.Wait()

	s.Trigger(context.Background()) // dropped: a run is in flight
	assert.True(t, s.Busy())

	close(release)
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}

func TestSingleRunsAgainAfterCompletion(t *testing.T) {
	var runs int
	var mu sync.Mutex
	s := NewSingle(func(ctx context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	s.Trigger(context.Background())
	s.Wait()
	time.Sleep(time.Millisecond)
	s.Trigger(context.Background())
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, runs)
}
