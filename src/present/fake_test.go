package present

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// world is a scripted stand-in for the device, surface and pool. Every
// interesting call appends to a single event trace so tests can assert
// cross-component ordering, and submissions are tracked so tests can
// bound how many recordings are outstanding at once.
type world struct {
	events         []string
	fences         []*fakeFence
	outstanding    int
	maxOutstanding int
}

func (w *world) log(format string, args ...interface{}) {
	w.events = append(w.events, fmt.Sprintf(format, args...))
}

func (w *world) count(prefix string) int {
	n := 0
	for _, e := range w.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// requireOrder asserts that each event occurs, and occurs after the
// previous one in the list. Events are matched by prefix against their
// first occurrence after the prior match.
func requireOrder(t *testing.T, events []string, want ...string) {
	t.Helper()
	at := 0
	for _, target := range want {
		found := -1
		for i := at; i < len(events); i++ {
			if strings.HasPrefix(events[i], target) {
				found = i
				break
			}
		}
		require.GreaterOrEqual(t, found, 0, "event %q not found after index %d in trace:\n%s",
			target, at, strings.Join(events, "\n"))
		at = found + 1
	}
}

type fakeSignal struct {
	w    *world
	name string
}

func (s *fakeSignal) Destroy() { s.w.log("destroy %s", s.name) }

type fakeFence struct {
	w          *world
	name       string
	signaled   bool
	gpuPending bool
}

func (f *fakeFence) Wait(time.Duration) error {
	f.w.log("wait %s", f.name)
	if f.gpuPending {
		// The wait is what observes GPU completion.
		f.gpuPending = false
		f.signaled = true
		f.w.outstanding--
	}
	if !f.signaled {
		return fmt.Errorf("wait on %s which nothing will signal", f.name)
	}
	return nil
}

func (f *fakeFence) Reset() error {
	f.w.log("reset %s", f.name)
	f.signaled = false
	return nil
}

func (f *fakeFence) Destroy() { f.w.log("destroy %s", f.name) }

type fakeView struct {
	w     *world
	index int
}

func (v *fakeView) Destroy() { v.w.log("destroy view%d", v.index) }

type fakeRecorder struct {
	w    *world
	name string

	failBegin error // one-shot
	failEnd   error // one-shot
}

func (r *fakeRecorder) Reset() error {
	r.w.log("%s reset", r.name)
	return nil
}

func (r *fakeRecorder) Begin() error {
	r.w.log("%s begin", r.name)
	if err := r.failBegin; err != nil {
		r.failBegin = nil
		return err
	}
	return nil
}

func (r *fakeRecorder) Transition(view View, b Barrier) error {
	r.w.log("%s barrier view%d %s->%s", r.name, view.(*fakeView).index, b.From, b.To)
	return nil
}

func (r *fakeRecorder) BeginRendering(view View, area Rect, clear Color) error {
	r.w.log("%s beginRendering view%d %dx%d", r.name, view.(*fakeView).index, area.Extent.Width, area.Extent.Height)
	return nil
}

func (r *fakeRecorder) BindPipeline(p Pipeline) {
	r.w.log("%s bindPipeline %v", r.name, p)
}

func (r *fakeRecorder) SetViewport(vp Viewport) {
	r.w.log("%s setViewport %gx%g", r.name, vp.Width, vp.Height)
}

func (r *fakeRecorder) SetScissor(sc Rect) {
	r.w.log("%s setScissor %dx%d", r.name, sc.Extent.Width, sc.Extent.Height)
}

func (r *fakeRecorder) Draw(vertexCount, instanceCount int) {
	r.w.log("%s draw %d %d", r.name, vertexCount, instanceCount)
}

func (r *fakeRecorder) EndRendering() { r.w.log("%s endRendering", r.name) }

func (r *fakeRecorder) End() error {
	r.w.log("%s end", r.name)
	if err := r.failEnd; err != nil {
		r.failEnd = nil
		return err
	}
	return nil
}

func (r *fakeRecorder) Destroy() { r.w.log("destroy %s", r.name) }

type fakeDevice struct {
	w *world

	recorders []*fakeRecorder
	signals   int
	fenceSeq  int

	// failFenceAt makes the nth NewFence call fail (1-based, 0 = never).
	failFenceAt int

	// presentErrs scripts errors by 1-based present call ordinal.
	presentErrs  map[int]error
	presentCalls int

	submitErr error // one-shot
}

func (d *fakeDevice) NewRecorder() (Recorder, error) {
	r := &fakeRecorder{w: d.w, name: fmt.Sprintf("rec%d", len(d.recorders))}
	d.recorders = append(d.recorders, r)
	return r, nil
}

func (d *fakeDevice) NewSignal() (Signal, error) {
	s := &fakeSignal{w: d.w, name: fmt.Sprintf("sig%d", d.signals)}
	d.signals++
	return s, nil
}

func (d *fakeDevice) NewFence(signaled bool) (Fence, error) {
	d.fenceSeq++
	if d.failFenceAt != 0 && d.fenceSeq == d.failFenceAt {
		return nil, fmt.Errorf("fence creation refused")
	}
	f := &fakeFence{w: d.w, name: fmt.Sprintf("fence%d", d.fenceSeq-1), signaled: signaled}
	d.w.fences = append(d.w.fences, f)
	return f, nil
}

func (d *fakeDevice) Submit(rec Recorder, wait Signal, waitStage Stage, signal Signal, done Fence) error {
	if err := d.submitErr; err != nil {
		d.submitErr = nil
		return err
	}
	f := done.(*fakeFence)
	if f.signaled || f.gpuPending {
		return fmt.Errorf("submit with fence %s not reset", f.name)
	}
	f.gpuPending = true
	d.w.outstanding++
	if d.w.outstanding > d.w.maxOutstanding {
		d.w.maxOutstanding = d.w.outstanding
	}
	d.w.log("submit %s wait %s stage %d signal %s fence %s",
		rec.(*fakeRecorder).name, wait.(*fakeSignal).name, waitStage, signal.(*fakeSignal).name, f.name)
	return nil
}

func (d *fakeDevice) Present(wait Signal, image int) error {
	d.presentCalls++
	if err, ok := d.presentErrs[d.presentCalls]; ok {
		return err
	}
	d.w.log("present img%d wait %s", image, wait.(*fakeSignal).name)
	return nil
}

func (d *fakeDevice) WaitIdle() error {
	d.w.log("waitidle")
	for _, f := range d.w.fences {
		if f.gpuPending {
			f.gpuPending = false
			f.signaled = true
		}
	}
	d.w.outstanding = 0
	return nil
}

type fakeSurface struct {
	w   *world
	cfg SurfaceConfig

	// script overrides acquisition: an int is an image index, an error
	// is returned as-is. Once exhausted, acquisition falls back to
	// rotating through the pool.
	script []interface{}
	rot    int
}

func (s *fakeSurface) AcquireNext(timeout time.Duration, ready Signal) (int, error) {
	if len(s.script) > 0 {
		head := s.script[0]
		s.script = s.script[1:]
		if err, ok := head.(error); ok {
			s.w.log("acquire stale")
			return 0, err
		}
		idx := head.(int)
		s.w.log("acquire img%d ready %s", idx, ready.(*fakeSignal).name)
		return idx, nil
	}
	idx := s.rot % s.cfg.ImageCount
	s.rot++
	s.w.log("acquire img%d ready %s", idx, ready.(*fakeSignal).name)
	return idx, nil
}

func (s *fakeSurface) Configuration() (SurfaceConfig, error) {
	return s.cfg, nil
}

// newFakeEngine wires a world with m pool images and a rotating
// acquire order.
func newFakeEngine(m int) (*world, *fakeDevice, *fakeSurface, *Pool) {
	w := &world{}
	dev := &fakeDevice{w: w, presentErrs: map[int]error{}}
	surf := &fakeSurface{w: w, cfg: SurfaceConfig{
		Format:     1,
		Extent:     Extent{Width: 640, Height: 480},
		ImageCount: m,
	}}
	views := make([]View, m)
	for i := range views {
		views[i] = &fakeView{w: w, index: i}
	}
	return w, dev, surf, NewPool(views)
}
