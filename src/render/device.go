package render

import (
	"github.com/palantir/stacktrace"
	"github.com/vulkan-go/vulkan"

	"aperture/src/present"
)

const (
	validationLayerName = "VK_LAYER_KHRONOS_validation"
	swapchainExtension  = "VK_KHR_swapchain\x00"
)

// Options configure device bootstrap.
type Options struct {
	AppName string

	// InstanceExtensions come from the windowing layer, e.g.
	// glfw's GetRequiredInstanceExtensions.
	InstanceExtensions []string

	// EnableValidation turns on the Khronos validation layer when it is
	// installed; when it is not, bootstrap continues without it.
	EnableValidation bool
}

// Device owns the Vulkan instance, the window surface and the logical
// device with its graphics and present queues.
type Device struct {
	instance vulkan.Instance
	surface  vulkan.Surface
	gpu      vulkan.PhysicalDevice
	handle   vulkan.Device

	graphicsFamily uint32
	presentFamily  uint32
	graphicsQueue  vulkan.Queue
	presentQueue   vulkan.Queue
}

// NewDevice bootstraps the instance, the surface through the provided
// constructor, the physical device choice and the logical device. The
// loader must already be initialized (vulkan.Init).
func NewDevice(opts Options, createSurface func(vulkan.Instance) (vulkan.Surface, error)) (*Device, error) {
	d := &Device{}
	if err := d.createInstance(opts); err != nil {
		return nil, stacktrace.Propagate(err, "create instance")
	}

	surface, err := createSurface(d.instance)
	if err != nil {
		vulkan.DestroyInstance(d.instance, nil)
		return nil, stacktrace.Propagate(err, "create window surface")
	}
	d.surface = surface

	if err := d.pickPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, stacktrace.Propagate(err, "create logical device")
	}
	return d, nil
}

func (d *Device) createInstance(opts Options) error {
	var layers []string
	if opts.EnableValidation {
		if validationSupported() {
			layers = append(layers, validationLayerName+"\x00")
		} else {
			present.Logger().Warn("validation requested but layer is not installed",
				"layer", validationLayerName)
		}
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   safeString(opts.AppName),
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        "aperture\x00",
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}
	exts := safeStrings(opts.InstanceExtensions)
	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	var instance vulkan.Instance
	if err := NewError(vulkan.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return err
	}
	if err := vulkan.InitInstance(instance); err != nil {
		vulkan.DestroyInstance(instance, nil)
		return err
	}
	d.instance = instance
	return nil
}

func validationSupported() bool {
	var count uint32
	if IsError(vulkan.EnumerateInstanceLayerProperties(&count, nil)) {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if IsError(vulkan.EnumerateInstanceLayerProperties(&count, props)) {
		return false
	}
	for i := range props {
		props[i].Deref()
		if vulkan.ToString(props[i].LayerName[:]) == validationLayerName {
			return true
		}
	}
	return false
}

// pickPhysicalDevice selects the first usable GPU, preferring a
// discrete one. Usable means it has a graphics queue family and one
// that can present to the surface.
func (d *Device) pickPhysicalDevice() error {
	var count uint32
	if err := NewError(vulkan.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return stacktrace.Propagate(err, "enumerate physical devices")
	}
	if count == 0 {
		return stacktrace.NewError("no vulkan-capable device present")
	}
	gpus := make([]vulkan.PhysicalDevice, count)
	if err := NewError(vulkan.EnumeratePhysicalDevices(d.instance, &count, gpus)); err != nil {
		return stacktrace.Propagate(err, "enumerate physical devices")
	}

	found := false
	var foundDiscrete bool
	for _, gpu := range gpus {
		var props vulkan.PhysicalDeviceProperties
		vulkan.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		name := vulkan.ToString(props.DeviceName[:])
		discrete := props.DeviceType == vulkan.PhysicalDeviceTypeDiscreteGpu

		graphics, presentation, ok := queueFamilies(gpu, d.surface)
		present.Logger().Info("physical device",
			"name", name, "discrete", discrete, "usable", ok)
		if !ok || (found && !discrete) || foundDiscrete {
			continue
		}
		d.gpu = gpu
		d.graphicsFamily = graphics
		d.presentFamily = presentation
		found = true
		foundDiscrete = discrete
	}
	if !found {
		return stacktrace.NewError("no device can both render and present to the surface")
	}
	return nil
}

func queueFamilies(gpu vulkan.PhysicalDevice, surface vulkan.Surface) (graphics, presentation uint32, ok bool) {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)

	haveGraphics, havePresent := false, false
	for i := range props {
		props[i].Deref()
		if props[i].QueueCount == 0 {
			continue
		}
		if !haveGraphics && props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0 {
			graphics = uint32(i)
			haveGraphics = true
		}
		var supported vulkan.Bool32
		vulkan.GetPhysicalDeviceSurfaceSupport(gpu, uint32(i), surface, &supported)
		if !havePresent && supported == vulkan.True {
			presentation = uint32(i)
			havePresent = true
		}
	}
	return graphics, presentation, haveGraphics && havePresent
}

func (d *Device) createLogicalDevice() error {
	families := []uint32{d.graphicsFamily}
	if d.presentFamily != d.graphicsFamily {
		families = append(families, d.presentFamily)
	}
	queueInfos := make([]vulkan.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	exts := []string{swapchainExtension}
	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
	}

	var dev vulkan.Device
	if err := NewError(vulkan.CreateDevice(d.gpu, &createInfo, nil, &dev)); err != nil {
		return err
	}
	d.handle = dev
	vulkan.GetDeviceQueue(dev, d.graphicsFamily, 0, &d.graphicsQueue)
	vulkan.GetDeviceQueue(dev, d.presentFamily, 0, &d.presentQueue)
	return nil
}

func (d *Device) Handle() vulkan.Device { return d.handle }

// Destroy tears down the logical device, the surface and the instance,
// in that order. Everything created from the device must be gone.
func (d *Device) Destroy() {
	if d.handle != nil {
		vulkan.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
	vulkan.DestroySurface(d.instance, d.surface, nil)
	vulkan.DestroyInstance(d.instance, nil)
}

// safeString null-terminates s for handoff to the loader.
func safeString(s string) string {
	if len(s) == 0 {
		return "\x00"
	}
	if s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}
