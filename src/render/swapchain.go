package render

import (
	"math"
	"time"

	"github.com/palantir/stacktrace"
	"github.com/vulkan-go/vulkan"

	"aperture/src/present"
)

// FramebufferSizer reports the window's framebuffer size in pixels,
// consulted when the surface capabilities leave the extent to the
// window system.
type FramebufferSizer func() (width, height int)

// Swapchain owns the presentable images for the window surface and
// implements the engine's image source.
type Swapchain struct {
	dev  *Device
	size FramebufferSizer

	handle  vulkan.Swapchain
	retired vulkan.Swapchain
	images  []vulkan.Image
	format  vulkan.Format
	extent  vulkan.Extent2D
}

func NewSwapchain(dev *Device, size FramebufferSizer) (*Swapchain, error) {
	s := &Swapchain{dev: dev, size: size}
	if err := s.create(vulkan.Swapchain(vulkan.NullHandle)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) create(old vulkan.Swapchain) error {
	var caps vulkan.SurfaceCapabilities
	if err := NewError(vulkan.GetPhysicalDeviceSurfaceCapabilities(s.dev.gpu, s.dev.surface, &caps)); err != nil {
		return stacktrace.Propagate(err, "query surface capabilities")
	}
	caps.Deref()

	format, err := s.chooseFormat()
	if err != nil {
		return err
	}
	extent := s.chooseExtent(caps)

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          s.dev.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      s.choosePresentMode(),
		Clipped:          vulkan.True,
		OldSwapchain:     old,
	}
	if s.dev.graphicsFamily != s.dev.presentFamily {
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{s.dev.graphicsFamily, s.dev.presentFamily}
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	var handle vulkan.Swapchain
	if err := NewError(vulkan.CreateSwapchain(s.dev.handle, &createInfo, nil, &handle)); err != nil {
		return stacktrace.Propagate(err, "create swapchain")
	}

	var count uint32
	if err := NewError(vulkan.GetSwapchainImages(s.dev.handle, handle, &count, nil)); err != nil {
		vulkan.DestroySwapchain(s.dev.handle, handle, nil)
		return stacktrace.Propagate(err, "count swapchain images")
	}
	images := make([]vulkan.Image, count)
	if err := NewError(vulkan.GetSwapchainImages(s.dev.handle, handle, &count, images)); err != nil {
		vulkan.DestroySwapchain(s.dev.handle, handle, nil)
		return stacktrace.Propagate(err, "get swapchain images")
	}

	s.handle = handle
	s.images = images
	s.format = format.Format
	s.extent = extent

	present.Logger().Info("swapchain ready",
		"images", count,
		"format", format.Format,
		"width", extent.Width,
		"height", extent.Height)
	return nil
}

func (s *Swapchain) chooseFormat() (vulkan.SurfaceFormat, error) {
	var count uint32
	if err := NewError(vulkan.GetPhysicalDeviceSurfaceFormats(s.dev.gpu, s.dev.surface, &count, nil)); err != nil {
		return vulkan.SurfaceFormat{}, stacktrace.Propagate(err, "count surface formats")
	}
	if count == 0 {
		return vulkan.SurfaceFormat{}, stacktrace.NewError("surface reports no formats")
	}
	formats := make([]vulkan.SurfaceFormat, count)
	if err := NewError(vulkan.GetPhysicalDeviceSurfaceFormats(s.dev.gpu, s.dev.surface, &count, formats)); err != nil {
		return vulkan.SurfaceFormat{}, stacktrace.Propagate(err, "get surface formats")
	}
	for i := range formats {
		formats[i].Deref()
	}
	for _, f := range formats {
		if f.Format == vulkan.FormatB8g8r8a8Srgb && f.ColorSpace == vulkan.ColorSpaceSrgbNonlinear {
			return f, nil
		}
	}
	return formats[0], nil
}

// choosePresentMode prefers mailbox and falls back to FIFO, which is
// always available.
func (s *Swapchain) choosePresentMode() vulkan.PresentMode {
	var count uint32
	if IsError(vulkan.GetPhysicalDeviceSurfacePresentModes(s.dev.gpu, s.dev.surface, &count, nil)) || count == 0 {
		return vulkan.PresentModeFifo
	}
	modes := make([]vulkan.PresentMode, count)
	if IsError(vulkan.GetPhysicalDeviceSurfacePresentModes(s.dev.gpu, s.dev.surface, &count, modes)) {
		return vulkan.PresentModeFifo
	}
	for _, m := range modes {
		if m == vulkan.PresentModeMailbox {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

func (s *Swapchain) chooseExtent(caps vulkan.SurfaceCapabilities) vulkan.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 && caps.CurrentExtent.Width != 0 {
		return caps.CurrentExtent
	}
	w, h := s.size()
	extent := vulkan.Extent2D{Width: uint32(w), Height: uint32(h)}
	extent.Width = clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// AcquireNext blocks until an image is available and returns its
// index. A stale surface is reported as present.ErrSurfaceStale; a
// suboptimal-but-working surface still acquires.
func (s *Swapchain) AcquireNext(timeout time.Duration, ready present.Signal) (int, error) {
	t := uint64(vulkan.MaxUint64)
	if timeout >= 0 {
		t = uint64(timeout.Nanoseconds())
	}
	var index uint32
	res := vulkan.AcquireNextImage(s.dev.handle, s.handle, t, ready.(*Semaphore).handle, vulkan.Fence(vulkan.NullHandle), &index)
	switch res {
	case vulkan.Success, vulkan.Suboptimal:
		return int(index), nil
	case vulkan.ErrorOutOfDate:
		return 0, present.ErrSurfaceStale
	case vulkan.Timeout, vulkan.NotReady:
		return 0, stacktrace.NewError("image acquisition timed out after %v", timeout)
	default:
		return 0, NewError(res)
	}
}

func (s *Swapchain) Configuration() (present.SurfaceConfig, error) {
	return present.SurfaceConfig{
		Format:     uint32(s.format),
		Extent:     present.Extent{Width: s.extent.Width, Height: s.extent.Height},
		ImageCount: len(s.images),
	}, nil
}

func (s *Swapchain) Format() vulkan.Format { return s.format }

// Targets builds one render target per swapchain image, each with its
// own view and a framebuffer bound to the given render pass.
func (s *Swapchain) Targets(renderPass vulkan.RenderPass) ([]present.View, error) {
	views := make([]present.View, 0, len(s.images))
	for _, image := range s.images {
		target, err := s.newTarget(image, renderPass)
		if err != nil {
			for i := len(views) - 1; i >= 0; i-- {
				views[i].(*RenderTarget).Destroy()
			}
			return nil, err
		}
		views = append(views, target)
	}
	return views, nil
}

func (s *Swapchain) newTarget(image vulkan.Image, renderPass vulkan.RenderPass) (*RenderTarget, error) {
	viewInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vulkan.ImageViewType2d,
		Format:   s.format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vulkan.ImageView
	if err := NewError(vulkan.CreateImageView(s.dev.handle, &viewInfo, nil, &view)); err != nil {
		return nil, stacktrace.Propagate(err, "create image view")
	}

	fbInfo := vulkan.FramebufferCreateInfo{
		SType:           vulkan.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: 1,
		PAttachments:    []vulkan.ImageView{view},
		Width:           s.extent.Width,
		Height:          s.extent.Height,
		Layers:          1,
	}
	var fb vulkan.Framebuffer
	if err := NewError(vulkan.CreateFramebuffer(s.dev.handle, &fbInfo, nil, &fb)); err != nil {
		vulkan.DestroyImageView(s.dev.handle, view, nil)
		return nil, stacktrace.Propagate(err, "create framebuffer")
	}
	return &RenderTarget{dev: s.dev.handle, image: image, view: view, renderPass: renderPass, framebuffer: fb}, nil
}

// Recreate replaces the swapchain after a surface change. The device
// must be idle. The old chain is kept alive until ReleaseRetired so
// the caller can destroy targets that still reference its images
// first.
func (s *Swapchain) Recreate() error {
	s.ReleaseRetired()
	old := s.handle
	if err := s.create(old); err != nil {
		return err
	}
	s.retired = old
	return nil
}

// ReleaseRetired destroys the swapchain retired by the last Recreate.
// All views onto its images must already be gone.
func (s *Swapchain) ReleaseRetired() {
	if s.retired != vulkan.Swapchain(vulkan.NullHandle) {
		vulkan.DestroySwapchain(s.dev.handle, s.retired, nil)
		s.retired = vulkan.Swapchain(vulkan.NullHandle)
	}
}

func (s *Swapchain) Destroy() {
	s.ReleaseRetired()
	vulkan.DestroySwapchain(s.dev.handle, s.handle, nil)
}

// RenderTarget is one swapchain image with its view and framebuffer.
type RenderTarget struct {
	dev         vulkan.Device
	image       vulkan.Image
	view        vulkan.ImageView
	renderPass  vulkan.RenderPass
	framebuffer vulkan.Framebuffer
}

func (t *RenderTarget) Destroy() {
	vulkan.DestroyFramebuffer(t.dev, t.framebuffer, nil)
	vulkan.DestroyImageView(t.dev, t.view, nil)
}
