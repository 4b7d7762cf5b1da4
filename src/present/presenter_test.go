package present

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPresenter(t *testing.T, m int, cfg Config) (*world, *fakeDevice, *fakeSurface, *Pool, *Presenter) {
	t.Helper()
	w, dev, surf, pool := newFakeEngine(m)
	p, err := New(dev, surf, pool, "pipe", nil, cfg)
	require.NoError(t, err)
	return w, dev, surf, pool, p
}

// times returns a continue signal that allows n iterations.
func times(n int) func() bool {
	return func() bool {
		n--
		return n >= 0
	}
}

func TestNewDefaults(t *testing.T) {
	_, _, _, _, p := newPresenter(t, 3, Config{})
	require.Equal(t, DefaultFramesInFlight, p.ring.size())
	require.Equal(t, ClearBlack, p.cfg.ClearColor)
	require.Equal(t, NoTimeout, p.cfg.AcquireTimeout)
	require.NotNil(t, p.draw)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, dev, surf, pool := newFakeEngine(3)

	_, err := New(dev, surf, pool, "pipe", nil, Config{FramesInFlight: -1})
	require.Error(t, err)

	// Fewer pool images than slots cannot satisfy the protocol.
	_, _, surf1, pool1 := newFakeEngine(1)
	_, err = New(dev, surf1, pool1, "pipe", nil, Config{FramesInFlight: 2})
	require.Error(t, err)
}

func TestFrameProtocolOrder(t *testing.T) {
	w, _, _, _, p := newPresenter(t, 3, Config{})
	require.NoError(t, p.Frame())

	requireOrder(t, w.events,
		"acquire img0 ready sig0",
		"rec0 reset",
		"rec0 begin",
		"rec0 barrier view0 Undefined->ColorAttachment",
		"rec0 beginRendering view0 640x480",
		"rec0 bindPipeline pipe",
		"rec0 setViewport 640x480",
		"rec0 setScissor 640x480",
		"rec0 draw 3 1",
		"rec0 endRendering",
		"rec0 barrier view0 ColorAttachment->PresentSource",
		"rec0 end",
		"submit rec0 wait sig0",
		"present img0 wait sig1",
	)
	// First use of a slot never blocks: its fence starts signaled and
	// nothing is pending.
	require.Equal(t, 0, w.count("wait fence"))
	require.Equal(t, uint64(1), p.Frames())
}

func TestSlotSequenceTwoInFlight(t *testing.T) {
	w, _, _, _, p := newPresenter(t, 2, Config{FramesInFlight: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Frame())
	}

	// Slots rotate 0,1,0,1,0 regardless of which image was acquired,
	// and a slot's fence is waited on before its recording is reused.
	requireOrder(t, w.events,
		"submit rec0",
		"submit rec1",
		"wait fence0",
		"reset fence0",
		"submit rec0",
		"wait fence1",
		"reset fence1",
		"submit rec1",
		"wait fence0",
		"submit rec0",
	)
	require.Equal(t, 5, w.count("submit"))
	require.Equal(t, 5, w.count("present"))
}

func TestAtMostNOutstanding(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			w, _, _, _, p := newPresenter(t, 4, Config{FramesInFlight: n})
			for i := 0; i < 12; i++ {
				require.NoError(t, p.Frame())
			}
			require.LessOrEqual(t, w.maxOutstanding, n)
			require.Equal(t, n, w.maxOutstanding)
		})
	}
}

func TestSecondLapTransitionsFromPresentSource(t *testing.T) {
	w, _, _, _, p := newPresenter(t, 3, Config{})
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Frame())
	}

	// First visit to each image leaves Undefined; the second lap finds
	// the layout the previous present left behind.
	require.Equal(t, 1, w.count("rec0 barrier view0 Undefined->ColorAttachment"))
	requireOrder(t, w.events,
		"rec0 barrier view0 Undefined->ColorAttachment",
		"rec1 barrier view0 PresentSource->ColorAttachment",
	)
}

func TestImageIndexIndependentOfSlot(t *testing.T) {
	w, _, surf, _, p := newPresenter(t, 3, Config{FramesInFlight: 2})
	surf.script = []interface{}{2, 2, 2, 2}

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Frame())
	}

	// The same image serviced by alternating slots.
	require.Equal(t, 4, w.count("present img2"))
	requireOrder(t, w.events,
		"submit rec0",
		"submit rec1",
		"submit rec0",
		"submit rec1",
	)
}

func TestRecordingErrorDropsFrame(t *testing.T) {
	w, dev, _, _, p := newPresenter(t, 3, Config{})
	require.NoError(t, p.Frame())

	dev.recorders[1].failBegin = fmt.Errorf("recording refused")
	err := p.Frame()
	var recErr *RecordingError
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, 1, recErr.Slot)

	// The failed frame submitted nothing and left the slot clean, so
	// the retry reuses it without waiting on its fence.
	require.Equal(t, 1, w.count("submit"))
	require.Equal(t, 0, w.count("wait fence1"))

	require.NoError(t, p.Frame())
	require.Equal(t, 0, w.count("wait fence1"))
	requireOrder(t, w.events, "submit rec0", "submit rec1")
	require.Equal(t, uint64(2), p.Frames())
}

func TestRunContinuesAfterRecordingError(t *testing.T) {
	w, dev, _, _, p := newPresenter(t, 3, Config{})
	dev.recorders[0].failBegin = fmt.Errorf("recording refused")

	require.NoError(t, p.Run(times(3)))
	require.Equal(t, 2, w.count("submit"))
	require.Equal(t, uint64(2), p.Frames())
}

func TestRunRecreatesOnStaleAcquire(t *testing.T) {
	w, _, surf, pool, p := newPresenter(t, 3, Config{})
	surf.script = []interface{}{0, 1, ErrSurfaceStale}

	p.cfg.RecreatePool = func() error {
		views := make([]View, 3)
		for i := range views {
			views[i] = &fakeView{w: w, index: 10 + i}
		}
		pool.Recreate(views)
		surf.cfg.Extent = Extent{Width: 800, Height: 600}
		surf.rot = 0
		return nil
	}

	require.NoError(t, p.Run(times(5)))

	// The stale iteration submits nothing; recreation drains the device
	// before the old views go away; the next frames render into the new
	// pool at the refreshed extent.
	require.Equal(t, 4, w.count("submit"))
	requireOrder(t, w.events,
		"acquire stale",
		"waitidle",
		"destroy view2",
		"destroy view0",
		"acquire img0",
		"rec0 barrier view10 Undefined->ColorAttachment",
		"rec0 beginRendering view10 800x600",
	)
}

func TestRunRecreatesOnStalePresent(t *testing.T) {
	w, dev, surf, pool, p := newPresenter(t, 3, Config{})
	dev.presentErrs[2] = ErrPresentStale

	recreated := 0
	p.cfg.RecreatePool = func() error {
		recreated++
		views := make([]View, 3)
		for i := range views {
			views[i] = &fakeView{w: w, index: 10 + i}
		}
		pool.Recreate(views)
		surf.rot = 0
		return nil
	}

	require.NoError(t, p.Run(times(4)))
	require.Equal(t, 1, recreated)

	// The rejected frame was submitted but not counted; its slot is
	// drained and reused for the retry.
	require.Equal(t, 4, w.count("submit"))
	require.Equal(t, 3, w.count("present"))
	require.Equal(t, uint64(3), p.Frames())
	requireOrder(t, w.events,
		"submit rec0",
		"submit rec1",
		"waitidle",
		"submit rec1",
		"submit rec0",
	)
}

func TestRunStaleWithoutHookFails(t *testing.T) {
	_, _, surf, _, p := newPresenter(t, 3, Config{})
	surf.script = []interface{}{ErrSurfaceStale}

	require.Error(t, p.Run(times(2)))
}

func TestRunStopsOnFatalError(t *testing.T) {
	w, dev, _, _, p := newPresenter(t, 3, Config{})
	dev.submitErr = fmt.Errorf("device lost")

	require.Error(t, p.Run(times(5)))
	// Best-effort drain before handing the error back.
	require.Equal(t, 1, w.count("waitidle"))
	require.Equal(t, uint64(0), p.Frames())
}

func TestCloseDrainsBeforeRelease(t *testing.T) {
	w, _, _, _, p := newPresenter(t, 3, Config{FramesInFlight: 2})
	require.NoError(t, p.Frame())
	require.NoError(t, p.Frame())

	require.NoError(t, p.Close())
	requireOrder(t, w.events,
		"waitidle",
		"destroy fence1",
		"destroy fence0",
	)
	for _, f := range w.fences {
		require.False(t, f.gpuPending)
	}
}
