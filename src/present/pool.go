package present

import "github.com/palantir/stacktrace"

// Pool holds the render targets for the current surface configuration
// together with the engine-tracked layout of each image. The handles
// themselves are owned by the device-side swapchain; the pool owns the
// views and destroys them on recreation.
//
// The tracked layout belongs to the image's last submitted use, not to
// the image as a persistent invariant: acquisition order is not
// guaranteed sequential, so it is re-consulted every iteration.
type Pool struct {
	views   []View
	layouts []Layout
}

// NewPool wraps the views created for the current surface
// configuration. All images start in LayoutUndefined.
func NewPool(views []View) *Pool {
	return &Pool{
		views:   views,
		layouts: make([]Layout, len(views)),
	}
}

func (p *Pool) ImageCount() int { return len(p.views) }

func (p *Pool) ViewFor(i int) (View, error) {
	if i < 0 || i >= len(p.views) {
		return nil, stacktrace.NewError("image index %d out of range (pool holds %d)", i, len(p.views))
	}
	return p.views[i], nil
}

func (p *Pool) layoutOf(i int) Layout { return p.layouts[i] }

func (p *Pool) setLayout(i int, l Layout) { p.layouts[i] = l }

// Recreate replaces the pool's views after a surface reconfiguration.
// The caller must have drained the device (WaitIdle) first: pending
// submissions may still reference the old views.
func (p *Pool) Recreate(views []View) {
	p.Destroy()
	p.views = views
	p.layouts = make([]Layout, len(views))
}

// Destroy releases all views. Requires an idle device, same as
// Recreate.
func (p *Pool) Destroy() {
	for i := len(p.views) - 1; i >= 0; i-- {
		if p.views[i] != nil {
			p.views[i].Destroy()
		}
	}
	p.views = nil
	p.layouts = nil
}
