package xactor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	mu     sync.RWMutex
	actors = make(map[string]*Actor)
)

func register(actor *Actor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := actors[actor.Name()]; ok {
		return errors.Wrapf(ErrActorExists, "%s", actor.Name())
	}
	actors[actor.Name()] = actor
	return nil
}

func unregister(actor *Actor) {
	mu.Lock()
	defer mu.Unlock()
	if actors[actor.Name()] == actor {
		delete(actors, actor.Name())
	}
}

func Lookup(name string) (*Actor, error) {
	mu.RLock()
	actor := actors[name]
	mu.RUnlock()
	if actor == nil {
		return nil, errors.Wrapf(ErrActorNotFound, "%s", name)
	}
	return actor, nil
}

func StopAll(ctx context.Context) {
	mu.RLock()
	all := make([]*Actor, 0, len(actors))
	for _, actor := range actors {
		all = append(all, actor)
	}
	mu.RUnlock()

	for _, actor := range all {
		actor.Stop(ctx)
	}
}
