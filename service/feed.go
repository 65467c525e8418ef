package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/metrics"
	"github.com/adwski/sketchwire/model"
)

const defaultFeedBuffer = 64

// Feed carries every applied action to observer subscribers. Publish
// never blocks the replication path: a subscriber that falls behind
// loses messages instead of stalling the coordinator.
type Feed struct {
	logger zerolog.Logger
	mx     sync.RWMutex
	subs   map[string]chan model.Action
	closed bool
}

func NewFeed(logger *zerolog.Logger) *Feed {
	return &Feed{
		logger: logger.With().Str("component", "feed").Logger(),
		subs:   make(map[string]chan model.Action),
	}
}

func (f *Feed) Subscribe() (string, <-chan model.Action) {
	id := uuid.NewString()
	ch := make(chan model.Action, defaultFeedBuffer)

	f.mx.Lock()
	defer f.mx.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subs[id] = ch
	f.logger.Debug().Str("subscriber", id).Msg("observer subscribed")
	return id, ch
}

func (f *Feed) Unsubscribe(id string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	ch, ok := f.subs[id]
	if !ok {
		return
	}
	delete(f.subs, id)
	close(ch)
	f.logger.Debug().Str("subscriber", id).Msg("observer unsubscribed")
}

func (f *Feed) Publish(a model.Action) {
	f.mx.RLock()
	defer f.mx.RUnlock()
	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- a:
		default:
			metrics.FeedDrops.Inc()
		}
	}
}

func (f *Feed) Close() {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
