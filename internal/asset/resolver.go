package asset

import (
	"context"
	"sync"
	"time"
)

// Puller fetches a blob by id, from wherever blobs come from.
type Puller interface {
	Pull(ctx context.Context, id ID) ([]byte, error)
}

// Resolver turns template asset ids into decoded templates, retrying
// the pull and caching decoded results. Templates are immutable, so
// the cache never invalidates.
type Resolver struct {
	puller     Puller
	attempts   int
	perAttempt time.Duration

	mu    sync.Mutex
	cache map[ID]*Template
}

func NewResolver(puller Puller, attempts int, perAttempt time.Duration) *Resolver {
	if attempts <= 0 {
		attempts = 3
	}
	if perAttempt <= 0 {
		perAttempt = 10 * time.Second
	}
	return &Resolver{
		puller:     puller,
		attempts:   attempts,
		perAttempt: perAttempt,
		cache:      map[ID]*Template{},
	}
}

func (r *Resolver) Template(ctx context.Context, id ID) (*Template, error) {
	r.mu.Lock()
	tpl, ok := r.cache[id]
	r.mu.Unlock()
	if ok {
		return tpl, nil
	}

	var err error
	for i := 0; i < r.attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.perAttempt)
		var data []byte
		data, err = r.puller.Pull(attemptCtx, id)
		cancel()
		if err == nil {
			tpl, err = DecodeTemplate(data)
			if err != nil {
				// A decoded failure will not heal on retry.
				return nil, err
			}
			r.mu.Lock()
			r.cache[id] = tpl
			r.mu.Unlock()
			return tpl, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, err
}
