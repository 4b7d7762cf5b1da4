package present

import "time"

// NoTimeout makes blocking operations wait indefinitely.
const NoTimeout time.Duration = -1

// Extent is a surface size in pixels.
type Extent struct {
	Width  uint32
	Height uint32
}

// Offset is a pixel offset into a surface.
type Offset struct {
	X int32
	Y int32
}

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	Offset Offset
	Extent Extent
}

// Viewport matches the dynamic viewport state handed to the draw hook.
type Viewport struct {
	X        float32
	Y        float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

// Color is an RGBA clear color.
type Color [4]float32

// ClearBlack is the default clear color.
var ClearBlack = Color{0, 0, 0, 1}

// SurfaceConfig is the finalized surface configuration the image pool
// was built for.
type SurfaceConfig struct {
	Format     uint32
	Extent     Extent
	ImageCount int
}

// Signal is an opaque GPU-side signal object (a binary semaphore). It
// is created by the Device, waited on and signaled only by the
// device's own scheduler, never by the CPU.
type Signal interface {
	Destroy()
}

// Fence is the one CPU-blocking primitive in the protocol.
type Fence interface {
	// Wait blocks until the fence is signaled or the timeout expires.
	// Pass NoTimeout to wait indefinitely.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

// View is an opaque per-image render target owned by the ImagePool.
type View interface {
	Destroy()
}

// Pipeline is the opaque compiled pipeline handle. The presenter binds
// it once per recording scope and otherwise passes it through to the
// draw hook untouched.
type Pipeline interface{}

// Recorder is one slot's command-recording context. All methods must
// be called between Begin and End except Reset and Destroy; rendering
// commands (BindPipeline, SetViewport, SetScissor, Draw) are only
// valid inside a BeginRendering/EndRendering scope.
type Recorder interface {
	Reset() error
	Begin() error

	// Transition emits the planned layout barrier for the given image.
	Transition(view View, b Barrier) error

	// BeginRendering opens a rendering scope bound to the image's
	// view, clearing it to the given color and storing results.
	BeginRendering(view View, area Rect, clear Color) error
	BindPipeline(p Pipeline)
	SetViewport(vp Viewport)
	SetScissor(sc Rect)
	Draw(vertexCount, instanceCount int)
	EndRendering()

	End() error
	Destroy()
}

// Device is the queue-owning render device the engine drives. Submit
// and Present are fire-and-forget: ordering is expressed entirely
// through the wait/signal arguments.
type Device interface {
	NewRecorder() (Recorder, error)
	NewSignal() (Signal, error)
	NewFence(signaled bool) (Fence, error)

	// Submit hands the recorded context to the graphics queue. The GPU
	// waits for wait at waitStage, signals signal when rendering
	// completes, and signals done once the whole submission retires.
	Submit(rec Recorder, wait Signal, waitStage Stage, signal Signal, done Fence) error

	// Present queues the image for display once wait is signaled.
	// Returns ErrPresentStale (possibly wrapped) when the surface no
	// longer matches the pool.
	Present(wait Signal, image int) error

	// WaitIdle blocks until the device has retired all submitted work.
	WaitIdle() error
}

// Surface provides presentable images.
type Surface interface {
	// AcquireNext returns the index of the next presentable image.
	// The image must not be touched by the GPU until ready is
	// signaled. Returns ErrSurfaceStale (possibly wrapped) when the
	// pool must be recreated.
	AcquireNext(timeout time.Duration, ready Signal) (int, error)

	Configuration() (SurfaceConfig, error)
}

// DrawFunc records the frame's draw commands. It runs inside an open
// rendering scope with the pipeline already bound and must not emit
// barriers or open or close scopes of its own.
type DrawFunc func(rec Recorder, vp Viewport, pipeline Pipeline) error

// DrawTriangle is the minimal draw hook: dynamic viewport and scissor
// covering the full extent, then three in-shader vertices.
func DrawTriangle(rec Recorder, vp Viewport, _ Pipeline) error {
	rec.SetViewport(vp)
	rec.SetScissor(Rect{Extent: Extent{Width: uint32(vp.Width), Height: uint32(vp.Height)}})
	rec.Draw(3, 1)
	return nil
}
