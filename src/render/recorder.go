package render

import (
	"github.com/vulkan-go/vulkan"

	"aperture/src/present"
)

// Recorder records one frame slot's primary command buffer. The buffer
// comes from the context's resettable pool, so Reset acts on the
// buffer alone.
type Recorder struct {
	ctx *Context
	cmd vulkan.CommandBuffer
}

func (r *Recorder) Reset() error {
	return NewError(vulkan.ResetCommandBuffer(r.cmd, 0))
}

func (r *Recorder) Begin() error {
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
	}
	return NewError(vulkan.BeginCommandBuffer(r.cmd, &beginInfo))
}

// Transition lowers a planned barrier to a pipeline barrier on the
// target's image. These barriers are the only layout transitions in
// the frame; the render pass is set up to perform none of its own.
func (r *Recorder) Transition(view present.View, b present.Barrier) error {
	target := view.(*RenderTarget)
	barrier := vulkan.ImageMemoryBarrier{
		SType:               vulkan.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       toAccessFlags(b.SrcAccess),
		DstAccessMask:       toAccessFlags(b.DstAccess),
		OldLayout:           toImageLayout(b.From),
		NewLayout:           toImageLayout(b.To),
		SrcQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		DstQueueFamilyIndex: vulkan.QueueFamilyIgnored,
		Image:               target.image,
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vulkan.CmdPipelineBarrier(r.cmd,
		toStageFlags(b.SrcStage), toStageFlags(b.DstStage),
		0, 0, nil, 0, nil, 1, []vulkan.ImageMemoryBarrier{barrier})
	return nil
}

func (r *Recorder) BeginRendering(view present.View, area present.Rect, clear present.Color) error {
	target := view.(*RenderTarget)
	beginInfo := vulkan.RenderPassBeginInfo{
		SType:           vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:      target.renderPass,
		Framebuffer:     target.framebuffer,
		RenderArea:      toRect2D(area),
		ClearValueCount: 1,
		PClearValues: []vulkan.ClearValue{
			vulkan.NewClearValue([]float32{clear[0], clear[1], clear[2], clear[3]}),
		},
	}
	vulkan.CmdBeginRenderPass(r.cmd, &beginInfo, vulkan.SubpassContentsInline)
	return nil
}

func (r *Recorder) BindPipeline(p present.Pipeline) {
	vulkan.CmdBindPipeline(r.cmd, vulkan.PipelineBindPointGraphics, p.(*Pipeline).handle)
}

func (r *Recorder) SetViewport(vp present.Viewport) {
	vulkan.CmdSetViewport(r.cmd, 0, 1, []vulkan.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (r *Recorder) SetScissor(sc present.Rect) {
	vulkan.CmdSetScissor(r.cmd, 0, 1, []vulkan.Rect2D{toRect2D(sc)})
}

func (r *Recorder) Draw(vertexCount, instanceCount int) {
	vulkan.CmdDraw(r.cmd, uint32(vertexCount), uint32(instanceCount), 0, 0)
}

func (r *Recorder) EndRendering() {
	vulkan.CmdEndRenderPass(r.cmd)
}

func (r *Recorder) End() error {
	return NewError(vulkan.EndCommandBuffer(r.cmd))
}

func (r *Recorder) Destroy() {
	vulkan.FreeCommandBuffers(r.ctx.dev.handle, r.ctx.cmdPool, 1, []vulkan.CommandBuffer{r.cmd})
}

func toImageLayout(l present.Layout) vulkan.ImageLayout {
	switch l {
	case present.LayoutColorAttachment:
		return vulkan.ImageLayoutColorAttachmentOptimal
	case present.LayoutPresentSource:
		return vulkan.ImageLayoutPresentSrc
	default:
		return vulkan.ImageLayoutUndefined
	}
}

func toAccessFlags(a present.Access) vulkan.AccessFlags {
	var flags vulkan.AccessFlags
	if a&present.AccessColorAttachmentWrite != 0 {
		flags |= vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit)
	}
	return flags
}

func toStageFlags(s present.Stage) vulkan.PipelineStageFlags {
	var flags vulkan.PipelineStageFlags
	if s&present.StageTopOfPipe != 0 {
		flags |= vulkan.PipelineStageFlags(vulkan.PipelineStageTopOfPipeBit)
	}
	if s&present.StageColorAttachmentOutput != 0 {
		flags |= vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit)
	}
	if s&present.StageBottomOfPipe != 0 {
		flags |= vulkan.PipelineStageFlags(vulkan.PipelineStageBottomOfPipeBit)
	}
	return flags
}

func toRect2D(r present.Rect) vulkan.Rect2D {
	return vulkan.Rect2D{
		Offset: vulkan.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: vulkan.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}
}
