package observer

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// maxTrackedArrivals bounds arrivals of requests that never produce a response
const maxTrackedArrivals = 4096

// arrivals remembers when each in-flight request arrived
type arrivals struct {
	cache *lru.Cache[string, time.Time]
}

func newArrivals() (*arrivals, error) {
	cache, err := lru.New[string, time.Time](maxTrackedArrivals)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create arrival cache")
	}
	return &arrivals{cache: cache}, nil
}

func (a *arrivals) start(id string, at time.Time) {
	a.cache.Add(id, at)
}

// finish returns the elapsed time since arrival and forgets the request
func (a *arrivals) finish(id string, at time.Time) (time.Duration, bool) {
	started, ok := a.cache.Get(id)
	if !ok {
		return 0, false
	}
	a.cache.Remove(id)
	return at.Sub(started), true
}
