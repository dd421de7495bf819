// Package capability loads the external detection capability's assets
// exactly once per process and exposes the resulting readiness.
package capability

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/session"
)

// Loader fetches the capability assets once. Concurrent and repeated Load
// calls share the single fetch. A failure is permanent for the process.
type Loader struct {
	assets   detector.AssetLoader
	location string
	log      *logrus.Entry

	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	ready bool
	err   error
}

// NewLoader creates a loader for the assets at location.
func NewLoader(assets detector.AssetLoader, location string, log *logrus.Entry) *Loader {
	return &Loader{
		assets:   assets,
		location: location,
		log:      log.WithField("component", "capability"),
		done:     make(chan struct{}),
	}
}

// Load starts the fetch on first call and waits for it to settle or for ctx
// to end. Cancelling ctx only stops this caller from waiting; the fetch
// itself runs to completion.
func (l *Loader) Load(ctx context.Context) error {
	l.once.Do(func() {
		go l.run()
	})

	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) run() {
	defer close(l.done)

	l.log.WithField("location", l.location).Info("loading detection assets")
	err := l.assets.LoadAssets(context.Background(), l.location)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.err = session.E(session.KindLoad, "capability.Load", "detection assets unavailable", err)
		l.log.WithError(err).Error("detection assets failed to load")
		return
	}
	l.ready = true
	l.log.Info("detection assets ready")
}

// Ready reports whether the capability is usable.
func (l *Loader) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// Err returns the LoadError once loading has failed, nil otherwise.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Done is closed once loading has settled, successfully or not.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}
