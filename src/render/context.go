package render

import (
	"time"

	"github.com/palantir/stacktrace"
	"github.com/vulkan-go/vulkan"

	"aperture/src/present"
)

// Semaphore is a binary semaphore. Only the device's scheduler waits
// on or signals it.
type Semaphore struct {
	dev    vulkan.Device
	handle vulkan.Semaphore
}

func (s *Semaphore) Destroy() {
	vulkan.DestroySemaphore(s.dev, s.handle, nil)
}

// Fence is the host-visible completion primitive.
type Fence struct {
	dev    vulkan.Device
	handle vulkan.Fence
}

func (f *Fence) Wait(timeout time.Duration) error {
	t := uint64(vulkan.MaxUint64)
	if timeout >= 0 {
		t = uint64(timeout.Nanoseconds())
	}
	res := vulkan.WaitForFences(f.dev, 1, []vulkan.Fence{f.handle}, vulkan.True, t)
	if res == vulkan.Timeout {
		return stacktrace.NewError("fence wait timed out after %v", timeout)
	}
	return NewError(res)
}

func (f *Fence) Reset() error {
	return NewError(vulkan.ResetFences(f.dev, 1, []vulkan.Fence{f.handle}))
}

func (f *Fence) Destroy() {
	vulkan.DestroyFence(f.dev, f.handle, nil)
}

// Context is the queue-facing side of the device: factories for
// per-slot recording and synchronization objects, queue submission and
// presentation. It owns a resettable command pool on the graphics
// family.
type Context struct {
	dev     *Device
	sc      *Swapchain
	cmdPool vulkan.CommandPool
}

func NewContext(dev *Device, sc *Swapchain) (*Context, error) {
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: dev.graphicsFamily,
	}
	var pool vulkan.CommandPool
	if err := NewError(vulkan.CreateCommandPool(dev.handle, &poolInfo, nil, &pool)); err != nil {
		return nil, stacktrace.Propagate(err, "create command pool")
	}
	return &Context{dev: dev, sc: sc, cmdPool: pool}, nil
}

func (c *Context) NewRecorder() (present.Recorder, error) {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.cmdPool,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vulkan.CommandBuffer, 1)
	if err := NewError(vulkan.AllocateCommandBuffers(c.dev.handle, &allocInfo, buffers)); err != nil {
		return nil, stacktrace.Propagate(err, "allocate command buffer")
	}
	return &Recorder{ctx: c, cmd: buffers[0]}, nil
}

func (c *Context) NewSignal() (present.Signal, error) {
	semInfo := vulkan.SemaphoreCreateInfo{
		SType: vulkan.StructureTypeSemaphoreCreateInfo,
	}
	var sem vulkan.Semaphore
	if err := NewError(vulkan.CreateSemaphore(c.dev.handle, &semInfo, nil, &sem)); err != nil {
		return nil, stacktrace.Propagate(err, "create semaphore")
	}
	return &Semaphore{dev: c.dev.handle, handle: sem}, nil
}

func (c *Context) NewFence(signaled bool) (present.Fence, error) {
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit)
	}
	var fence vulkan.Fence
	if err := NewError(vulkan.CreateFence(c.dev.handle, &fenceInfo, nil, &fence)); err != nil {
		return nil, stacktrace.Propagate(err, "create fence")
	}
	return &Fence{dev: c.dev.handle, handle: fence}, nil
}

func (c *Context) Submit(rec present.Recorder, wait present.Signal, waitStage present.Stage, signal present.Signal, done present.Fence) error {
	submitInfo := vulkan.SubmitInfo{
		SType:                vulkan.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vulkan.Semaphore{wait.(*Semaphore).handle},
		PWaitDstStageMask:    []vulkan.PipelineStageFlags{toStageFlags(waitStage)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vulkan.CommandBuffer{rec.(*Recorder).cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vulkan.Semaphore{signal.(*Semaphore).handle},
	}
	return NewError(vulkan.QueueSubmit(c.dev.graphicsQueue, 1, []vulkan.SubmitInfo{submitInfo}, done.(*Fence).handle))
}

func (c *Context) Present(wait present.Signal, image int) error {
	presentInfo := vulkan.PresentInfo{
		SType:              vulkan.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vulkan.Semaphore{wait.(*Semaphore).handle},
		SwapchainCount:     1,
		PSwapchains:        []vulkan.Swapchain{c.sc.handle},
		PImageIndices:      []uint32{uint32(image)},
	}
	switch res := vulkan.QueuePresent(c.dev.presentQueue, &presentInfo); res {
	case vulkan.Success:
		return nil
	case vulkan.ErrorOutOfDate, vulkan.Suboptimal:
		return present.ErrPresentStale
	default:
		return NewError(res)
	}
}

func (c *Context) WaitIdle() error {
	return NewError(vulkan.DeviceWaitIdle(c.dev.handle))
}

// Destroy releases the command pool and every buffer still allocated
// from it.
func (c *Context) Destroy() {
	vulkan.DestroyCommandPool(c.dev.handle, c.cmdPool, nil)
}
