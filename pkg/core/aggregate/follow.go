package aggregate

import (
	"context"
	"sync"

	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// BeginFunc starts a load generation synchronously
type BeginFunc func(ctx context.Context, identity *session.Identity) (context.Context, uint64)

// RunFunc performs a load begun by a BeginFunc
type RunFunc func(ctx context.Context, gen uint64, identity session.Identity) error

// Follow reloads an aggregate every time the provider's identity changes, starting
// with the current identity. Each generation is begun inside the notification so
// loads are ordered like the identity changes; the fetch itself runs in a goroutine.
// stop unsubscribes, cancels in-flight loads and waits for them to return.
func Follow(ctx context.Context, provider *session.Provider, begin BeginFunc, run RunFunc, onError func(session.Identity, error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu      sync.Mutex
		stopped bool
		wg      sync.WaitGroup
	)

	start := func(identity *session.Identity) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}

		loadCtx, gen := begin(ctx, identity)
		if identity == nil {
			return
		}

		id := *identity
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(loadCtx, gen, id); err != nil && onError != nil {
				onError(id, err)
			}
		}()
	}

	unsubscribe := provider.SubscribeCurrent(start)

	return func() {
		unsubscribe()
		mu.Lock()
		stopped = true
		mu.Unlock()
		cancel()
		wg.Wait()
	}
}
