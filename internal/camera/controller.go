package camera

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/facecam/internal/session"
)

// Stats counts device acquisitions and releases.
type Stats struct {
	Acquired int64 `json:"acquired"`
	Released int64 `json:"released"`
}

// Controller owns the single capture source of the process.
type Controller struct {
	device Device
	log    *logrus.Entry
	group  singleflight.Group

	// acquireMu serialises device acquisitions; stopping is held while a
	// disabled source shuts down. Together they keep at most one stream live.
	acquireMu sync.Mutex
	stopping  sync.Mutex

	mu     sync.Mutex
	source *Source
	closed bool
	gen    uint64 // bumped by Disable so pending acquisitions know they are stale

	acquired atomic.Int64
	released atomic.Int64
}

// NewController creates a controller for device.
func NewController(device Device, log *logrus.Entry) *Controller {
	return &Controller{
		device: device,
		log:    log.WithFields(logrus.Fields{"component": "camera", "device": device.Name()}),
	}
}

// Enable acquires the camera. When a source is already active it is
// returned as is. Concurrent calls share one acquisition; a call made after
// a Disable never joins an acquisition started before it.
func (c *Controller) Enable(ctx context.Context) (*Source, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errControllerClosed()
	}
	if c.source != nil {
		src := c.source
		c.mu.Unlock()
		return src, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.acquire(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Source), nil
}

func errControllerClosed() error {
	return session.E(session.KindClosed, "camera.Enable", "controller closed", nil)
}

func errDisabledWhileStarting() error {
	return session.E(session.KindAcquire, "camera.Enable", "camera disabled while starting", nil)
}

func (c *Controller) acquire(ctx context.Context, gen uint64) (*Source, error) {
	c.acquireMu.Lock()
	defer c.acquireMu.Unlock()

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, errControllerClosed()
	case c.gen != gen:
		c.mu.Unlock()
		return nil, errDisabledWhileStarting()
	case c.source != nil:
		src := c.source
		c.mu.Unlock()
		return src, nil
	}
	c.mu.Unlock()

	// Wait for a disabled source to finish stopping.
	c.stopping.Lock()
	c.stopping.Unlock() //nolint:staticcheck // used as a barrier

	track, size, err := c.device.Acquire(ctx)
	if err != nil {
		c.log.WithError(err).Warn("camera acquisition failed")
		return nil, session.E(session.KindAcquire, "camera.Enable", "camera unavailable", err)
	}
	c.acquired.Add(1)
	src := newSource(track, size, c.log)

	c.mu.Lock()
	if c.closed || c.gen != gen {
		closed := c.closed
		c.mu.Unlock()
		c.release(src)
		if closed {
			return nil, errControllerClosed()
		}
		return nil, errDisabledWhileStarting()
	}
	c.source = src
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"width": size.Width, "height": size.Height}).Info("camera enabled")
	return src, nil
}

// Disable stops the active source. It is a no-op when nothing is active.
func (c *Controller) Disable() {
	c.mu.Lock()
	c.gen++
	src := c.source
	c.source = nil
	if src != nil {
		c.stopping.Lock()
	}
	c.mu.Unlock()

	if src == nil {
		return
	}
	defer c.stopping.Unlock()
	c.release(src)
	c.log.Info("camera disabled")
}

// Close disables the camera and rejects every later Enable.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disable()
}

// Source returns the active source or nil.
func (c *Controller) Source() *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Stats returns acquisition counters.
func (c *Controller) Stats() Stats {
	return Stats{Acquired: c.acquired.Load(), Released: c.released.Load()}
}

func (c *Controller) release(src *Source) {
	src.stop()
	c.released.Add(1)
}
