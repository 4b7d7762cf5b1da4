// Package present implements the frame presentation and
// synchronization protocol: a bounded ring of in-flight frame slots,
// fence-gated reuse of their recording contexts, semaphore-ordered
// acquire/submit/present, and the two image layout transitions framing
// every frame. The device, surface and pipeline are opaque
// collaborators supplied by the caller.
package present

import (
	"errors"
	"time"

	"github.com/palantir/stacktrace"
)

// DefaultFramesInFlight bounds how many frames the CPU may prepare
// ahead of the GPU when the caller does not choose.
const DefaultFramesInFlight = 2

// Config declares everything the presenter needs up front.
type Config struct {
	// FramesInFlight is the slot count N. Defaults to
	// DefaultFramesInFlight; must be at least 1.
	FramesInFlight int

	// ClearColor for the rendering scope's load-clear. The zero value
	// selects opaque black.
	ClearColor Color

	// AcquireTimeout bounds image acquisition. The zero value means
	// NoTimeout.
	AcquireTimeout time.Duration

	// RecreatePool is invoked by Run after a stale surface or present
	// result, with the device already idle. It must rebuild the
	// swapchain-side resources and refresh the Pool via Recreate.
	RecreatePool func() error
}

// Presenter drives the per-frame protocol on a single calling thread.
// The GPU runs asynchronously; the only CPU block is the slot fence
// wait at the top of each iteration.
type Presenter struct {
	dev      Device
	surface  Surface
	pool     *Pool
	pipeline Pipeline
	draw     DrawFunc
	cfg      Config

	ring   *slotRing
	extent Extent
	frames uint64
}

// New builds a presenter and its slot ring. The pool stays owned by
// the caller; Close does not destroy it.
func New(dev Device, surface Surface, pool *Pool, pipeline Pipeline, draw DrawFunc, cfg Config) (*Presenter, error) {
	if cfg.FramesInFlight == 0 {
		cfg.FramesInFlight = DefaultFramesInFlight
	}
	if cfg.FramesInFlight < 1 {
		return nil, stacktrace.NewError("frames in flight must be at least 1, got %d", cfg.FramesInFlight)
	}
	if cfg.ClearColor == (Color{}) {
		cfg.ClearColor = ClearBlack
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = NoTimeout
	}
	if draw == nil {
		draw = DrawTriangle
	}

	sc, err := surface.Configuration()
	if err != nil {
		return nil, stacktrace.Propagate(err, "query surface configuration")
	}
	if pool.ImageCount() < cfg.FramesInFlight {
		return nil, stacktrace.NewError("pool holds %d images, need at least %d", pool.ImageCount(), cfg.FramesInFlight)
	}

	ring, err := newSlotRing(dev, cfg.FramesInFlight)
	if err != nil {
		return nil, err
	}

	Logger().Info("presenter ready",
		"frames_in_flight", cfg.FramesInFlight,
		"pool_images", pool.ImageCount(),
		"extent", sc.Extent)

	return &Presenter{
		dev:      dev,
		surface:  surface,
		pool:     pool,
		pipeline: pipeline,
		draw:     draw,
		cfg:      cfg,
		ring:     ring,
		extent:   sc.Extent,
	}, nil
}

// Frames reports how many iterations completed through Present.
func (p *Presenter) Frames() uint64 { return p.frames }

// Frame runs one full iteration: wait, acquire, record, submit,
// present, advance. The slot advances only on complete success, so a
// dropped frame retries on the same, clean slot.
//
// ErrSurfaceStale and ErrPresentStale are reported as status values
// (the frame was dropped, or rendered but rejected); the caller must
// recreate the pool before the next call. A *RecordingError drops the
// frame without submitting. Anything else is fatal.
func (p *Presenter) Frame() error {
	slot := p.ring.current()

	// 1. Wait, then reset. Guarantees the GPU retired the previous
	// submission on this slot before its context is touched again.
	if slot.pending {
		if err := slot.inFlight.Wait(NoTimeout); err != nil {
			return stacktrace.Propagate(err, "wait for slot %d fence", slot.index)
		}
		if err := slot.inFlight.Reset(); err != nil {
			return stacktrace.Propagate(err, "reset slot %d fence", slot.index)
		}
		slot.pending = false
	}

	// 2. Acquire. The returned index is not the slot index and is
	// never cached across iterations.
	image, err := p.surface.AcquireNext(p.cfg.AcquireTimeout, slot.imageAvailable)
	if err != nil {
		return err
	}
	view, err := p.pool.ViewFor(image)
	if err != nil {
		return err
	}

	// 3. Record.
	if err := p.record(slot, image, view); err != nil {
		return &RecordingError{Slot: slot.index, Err: err}
	}

	// 4. Submit. The fence signaled here is exactly what step 1 waits
	// on when this slot comes around again.
	if err := p.dev.Submit(slot.rec, slot.imageAvailable, StageColorAttachmentOutput, slot.renderFinished, slot.inFlight); err != nil {
		return stacktrace.Propagate(err, "submit slot %d", slot.index)
	}
	slot.pending = true
	p.pool.setLayout(image, LayoutPresentSource)

	// 5. Present, ordered behind rendering by the render-finished
	// signal.
	if err := p.dev.Present(slot.renderFinished, image); err != nil {
		if errors.Is(err, ErrPresentStale) {
			return err
		}
		return stacktrace.Propagate(err, "present image %d", image)
	}

	// 6. Advance.
	p.ring.advance()
	p.frames++
	return nil
}

// record builds the slot's command stream: barrier into
// ColorAttachment, a cleared rendering scope with the caller's draw
// commands, then the barrier into PresentSource. The pool's tracked
// layout is untouched here; Frame commits it after a successful
// submit.
func (p *Presenter) record(slot *frameSlot, image int, view View) error {
	toColor, err := PlanTransition(p.pool.layoutOf(image), LayoutColorAttachment)
	if err != nil {
		return err
	}
	toPresent, err := PlanTransition(LayoutColorAttachment, LayoutPresentSource)
	if err != nil {
		return err
	}

	rec := slot.rec
	if err := rec.Reset(); err != nil {
		return stacktrace.Propagate(err, "reset recording context")
	}
	if err := rec.Begin(); err != nil {
		return stacktrace.Propagate(err, "begin recording")
	}
	if err := rec.Transition(view, toColor); err != nil {
		return stacktrace.Propagate(err, "transition to color attachment")
	}

	area := Rect{Extent: p.extent}
	if err := rec.BeginRendering(view, area, p.cfg.ClearColor); err != nil {
		return stacktrace.Propagate(err, "begin rendering scope")
	}
	rec.BindPipeline(p.pipeline)
	vp := Viewport{
		Width:    float32(p.extent.Width),
		Height:   float32(p.extent.Height),
		MaxDepth: 1,
	}
	if err := p.draw(rec, vp, p.pipeline); err != nil {
		rec.EndRendering()
		return stacktrace.Propagate(err, "draw hook")
	}
	rec.EndRendering()

	if err := rec.Transition(view, toPresent); err != nil {
		return stacktrace.Propagate(err, "transition to present source")
	}
	if err := rec.End(); err != nil {
		return stacktrace.Propagate(err, "end recording")
	}
	return nil
}

// Run iterates Frame until next reports false. Stale results trigger
// pool recreation through the configured hook; recording failures drop
// the frame and continue; other errors stop the loop after a
// best-effort idle wait. Run never terminates mid-recording: the
// continue signal is consulted only between full iterations.
func (p *Presenter) Run(next func() bool) error {
	for next() {
		err := p.Frame()
		switch {
		case err == nil:

		case errors.Is(err, ErrSurfaceStale) || errors.Is(err, ErrPresentStale):
			Logger().Info("surface stale, recreating image pool", "frames", p.frames)
			if rerr := p.recreatePool(); rerr != nil {
				p.dev.WaitIdle()
				return rerr
			}

		default:
			var recErr *RecordingError
			if errors.As(err, &recErr) {
				Logger().Warn("dropped frame", "slot", recErr.Slot, "err", recErr.Err)
				continue
			}
			p.dev.WaitIdle()
			return err
		}
	}
	return nil
}

func (p *Presenter) recreatePool() error {
	if p.cfg.RecreatePool == nil {
		return stacktrace.NewError("surface is stale and no RecreatePool hook is configured")
	}
	// Pending submissions may still reference the old views; drain
	// before the hook tears them down.
	if err := p.dev.WaitIdle(); err != nil {
		return stacktrace.Propagate(err, "wait idle before pool recreation")
	}
	if err := p.cfg.RecreatePool(); err != nil {
		return stacktrace.Propagate(err, "recreate image pool")
	}
	sc, err := p.surface.Configuration()
	if err != nil {
		return stacktrace.Propagate(err, "query surface configuration after recreation")
	}
	p.extent = sc.Extent
	return nil
}

// Close drains the device and releases the slot ring. The pool,
// pipeline and device belong to the caller and are torn down after
// Close, in reverse creation order.
func (p *Presenter) Close() error {
	err := p.dev.WaitIdle()
	p.ring.destroy()
	if err != nil {
		return stacktrace.Propagate(err, "wait idle at shutdown")
	}
	return nil
}
