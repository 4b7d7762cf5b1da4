package present

import "github.com/palantir/stacktrace"

// frameSlot owns one in-flight frame's recording context and
// synchronization objects. Exactly one iteration touches a slot at a
// time; the fence wait before reuse enforces it.
type frameSlot struct {
	index          int
	rec            Recorder
	imageAvailable Signal
	renderFinished Signal
	inFlight       Fence

	// pending is true while a submission on this slot has not been
	// observed complete. It keeps aborted iterations from waiting on a
	// fence nothing will ever signal.
	pending bool
}

func (s *frameSlot) destroy() {
	if s.inFlight != nil {
		s.inFlight.Destroy()
	}
	if s.renderFinished != nil {
		s.renderFinished.Destroy()
	}
	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
	}
	if s.rec != nil {
		s.rec.Destroy()
	}
}

// slotRing is a fixed ring of frame slots cycled in strict round-robin
// order. Advancing is its only mutation; it never blocks.
type slotRing struct {
	slots []*frameSlot
	cur   int
}

func newSlotRing(dev Device, n int) (*slotRing, error) {
	r := &slotRing{slots: make([]*frameSlot, 0, n)}
	for i := 0; i < n; i++ {
		slot := &frameSlot{index: i}
		var err error
		if slot.rec, err = dev.NewRecorder(); err != nil {
			r.destroy()
			return nil, stacktrace.Propagate(err, "create recorder for slot %d", i)
		}
		if slot.imageAvailable, err = dev.NewSignal(); err != nil {
			slot.destroy()
			r.destroy()
			return nil, stacktrace.Propagate(err, "create image-available signal for slot %d", i)
		}
		if slot.renderFinished, err = dev.NewSignal(); err != nil {
			slot.destroy()
			r.destroy()
			return nil, stacktrace.Propagate(err, "create render-finished signal for slot %d", i)
		}
		// Created signaled so the first use of the slot never blocks.
		if slot.inFlight, err = dev.NewFence(true); err != nil {
			slot.destroy()
			r.destroy()
			return nil, stacktrace.Propagate(err, "create in-flight fence for slot %d", i)
		}
		r.slots = append(r.slots, slot)
	}
	return r, nil
}

func (r *slotRing) size() int { return len(r.slots) }

func (r *slotRing) current() *frameSlot { return r.slots[r.cur] }

func (r *slotRing) advance() { r.cur = (r.cur + 1) % len(r.slots) }

func (r *slotRing) destroy() {
	for i := len(r.slots) - 1; i >= 0; i-- {
		r.slots[i].destroy()
	}
	r.slots = nil
}
