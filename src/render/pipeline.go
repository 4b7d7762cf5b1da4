package render

import (
	"encoding/binary"
	"os"

	"github.com/palantir/stacktrace"
	"github.com/vulkan-go/vulkan"
)

// Pipeline is the compiled graphics pipeline together with the render
// pass it renders through.
type Pipeline struct {
	dev        vulkan.Device
	renderPass vulkan.RenderPass
	layout     vulkan.PipelineLayout
	handle     vulkan.Pipeline
}

func (p *Pipeline) RenderPass() vulkan.RenderPass { return p.renderPass }

// NewPipeline builds the render pass and a triangle pipeline with
// dynamic viewport and scissor for the given swapchain format. Shader
// bytecode is read from the two SPIR-V files.
//
// The render pass performs no layout transition of its own: the
// attachment enters and leaves in color-attachment layout, keeping the
// explicitly recorded barriers in charge of every transition. Its load
// op still does the clear.
func NewPipeline(dev *Device, format vulkan.Format, vertPath, fragPath string) (*Pipeline, error) {
	p := &Pipeline{dev: dev.handle}
	if err := p.createRenderPass(format); err != nil {
		return nil, err
	}
	if err := p.createPipeline(vertPath, fragPath); err != nil {
		vulkan.DestroyRenderPass(p.dev, p.renderPass, nil)
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) createRenderPass(format vulkan.Format) error {
	colorAttachment := vulkan.AttachmentDescription{
		Format:         format,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutColorAttachmentOptimal,
		FinalLayout:    vulkan.ImageLayoutColorAttachmentOptimal,
	}
	colorRef := vulkan.AttachmentReference{
		Attachment: 0,
		Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
	}
	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:    vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vulkan.AttachmentReference{colorRef},
	}
	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
	}
	var renderPass vulkan.RenderPass
	if err := NewError(vulkan.CreateRenderPass(p.dev, &createInfo, nil, &renderPass)); err != nil {
		return stacktrace.Propagate(err, "create render pass")
	}
	p.renderPass = renderPass
	return nil
}

func (p *Pipeline) createPipeline(vertPath, fragPath string) error {
	vertModule, err := p.loadShaderModule(vertPath)
	if err != nil {
		return err
	}
	defer vulkan.DestroyShaderModule(p.dev, vertModule, nil)
	fragModule, err := p.loadShaderModule(fragPath)
	if err != nil {
		return err
	}
	defer vulkan.DestroyShaderModule(p.dev, fragModule, nil)

	shaderStages := []vulkan.PipelineShaderStageCreateInfo{
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageVertexBit,
			Module: vertModule,
			PName:  "main\x00",
		},
		{
			SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkan.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  "main\x00",
		},
	}

	// Vertices live in the shader; no vertex input bindings.
	vertexInput := vulkan.PipelineVertexInputStateCreateInfo{
		SType: vulkan.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vulkan.PipelineInputAssemblyStateCreateInfo{
		SType:    vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vulkan.PrimitiveTopologyTriangleList,
	}
	// Viewport and scissor are dynamic, set per recording.
	viewportState := vulkan.PipelineViewportStateCreateInfo{
		SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vulkan.PipelineRasterizationStateCreateInfo{
		SType:       vulkan.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vulkan.PolygonModeFill,
		LineWidth:   1,
		CullMode:    vulkan.CullModeFlags(vulkan.CullModeBackBit),
		FrontFace:   vulkan.FrontFaceClockwise,
	}
	multisampling := vulkan.PipelineMultisampleStateCreateInfo{
		SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vulkan.SampleCount1Bit,
	}
	colorBlendAttachment := vulkan.PipelineColorBlendAttachmentState{
		ColorWriteMask: vulkan.ColorComponentFlags(
			vulkan.ColorComponentRBit | vulkan.ColorComponentGBit |
				vulkan.ColorComponentBBit | vulkan.ColorComponentABit),
	}
	colorBlending := vulkan.PipelineColorBlendStateCreateInfo{
		SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.PipelineColorBlendAttachmentState{colorBlendAttachment},
	}
	dynamicState := vulkan.PipelineDynamicStateCreateInfo{
		SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates: []vulkan.DynamicState{
			vulkan.DynamicStateViewport,
			vulkan.DynamicStateScissor,
		},
	}

	layoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType: vulkan.StructureTypePipelineLayoutCreateInfo,
	}
	var layout vulkan.PipelineLayout
	if err := NewError(vulkan.CreatePipelineLayout(p.dev, &layoutInfo, nil, &layout)); err != nil {
		return stacktrace.Propagate(err, "create pipeline layout")
	}
	p.layout = layout

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:               vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              p.layout,
		RenderPass:          p.renderPass,
		Subpass:             0,
	}
	pipelines := make([]vulkan.Pipeline, 1)
	res := vulkan.CreateGraphicsPipelines(p.dev, vulkan.PipelineCache(vulkan.NullHandle),
		1, []vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if err := NewError(res); err != nil {
		vulkan.DestroyPipelineLayout(p.dev, p.layout, nil)
		return stacktrace.Propagate(err, "create graphics pipeline")
	}
	p.handle = pipelines[0]
	return nil
}

func (p *Pipeline) loadShaderModule(path string) (vulkan.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), stacktrace.Propagate(err, "read shader %s", path)
	}
	words, err := repackUint32(code)
	if err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), stacktrace.Propagate(err, "shader %s", path)
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vulkan.ShaderModule
	if err := NewError(vulkan.CreateShaderModule(p.dev, &createInfo, nil, &module)); err != nil {
		return vulkan.ShaderModule(vulkan.NullHandle), stacktrace.Propagate(err, "create shader module %s", path)
	}
	return module, nil
}

// repackUint32 reinterprets SPIR-V bytecode as the word slice the
// loader expects.
func repackUint32(data []byte) ([]uint32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, stacktrace.NewError("bytecode length %d is not a positive multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

func (p *Pipeline) Destroy() {
	vulkan.DestroyPipeline(p.dev, p.handle, nil)
	vulkan.DestroyPipelineLayout(p.dev, p.layout, nil)
	vulkan.DestroyRenderPass(p.dev, p.renderPass, nil)
}
