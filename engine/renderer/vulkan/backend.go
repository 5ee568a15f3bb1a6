// Package vulkan implements the rhi.Driver on Vulkan 1.2 through goki/vulkan.
// Frame pacing uses a timeline counter backed by one fence per submit, and
// presentation uses binary semaphores. Resources are published through one
// update-after-bind descriptor set.
package vulkan

import (
	"fmt"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Config struct {
	AppName string
	// Enables the Khronos validation layer, the debug report callback and
	// object names.
	Validation         bool
	DescriptorCapacity uint32
}

// Driver is the Vulkan rhi.Driver. With a window it can present; without one
// it selects a device without present support and CreateSurface fails.
type Driver struct {
	context  *VulkanContext
	window   rhi.Window
	heap     *VulkanDescriptorHeap
	timeline *VulkanTimeline
	passes   *RenderpassCache

	surfaceCreated bool
}

var _ rhi.Driver = (*Driver)(nil)

func New(cfg Config, window rhi.Window) (*Driver, error) {
	if procAddr := glfw.GetVulkanGetInstanceProcAddress(); procAddr != nil {
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		core.LogError("GetInstanceProcAddress is nil")
		return nil, &rhi.SuitabilityError{Reason: "Vulkan loader not found: " + err.Error()}
	}
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, &rhi.SuitabilityError{Reason: err.Error()}
	}

	d := &Driver{
		window: window,
		context: &VulkanContext{
			// TODO: custom allocator.
			Allocator: nil,
			Device:    &VulkanDevice{GraphicsQueueIndex: -1, PresentQueueIndex: -1, TransferQueueIndex: -1},
			locks:     rhi.NewLockPool(),
		},
	}
	if err := d.initialize(cfg); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan renderer initialized successfully.")
	return d, nil
}

func (d *Driver) initialize(cfg Config) error {
	if err := d.createInstance(cfg); err != nil {
		return err
	}

	// Surface
	if d.window != nil {
		core.LogDebug("Creating Vulkan surface...")
		surface, err := d.window.CreateWindowSurface(d.context.Instance, nil)
		if err != nil {
			core.LogError("Vulkan surface creation failed.")
			return &rhi.CreationError{Subject: "window surface", Message: err.Error(), Err: err}
		}
		d.context.Surface = vk.SurfaceFromPointer(surface)
		core.LogDebug("Vulkan surface created.")
	}

	// Device creation
	if err := DeviceCreate(d.context); err != nil {
		core.LogError("Failed to create device: %s", err)
		return err
	}

	limits := d.context.Device.limits()
	if cfg.DescriptorCapacity > limits.MaxBindlessDescriptors {
		return &rhi.SuitabilityError{Reason: fmt.Sprintf("%s supports %d bindless descriptors per kind, %d requested",
			d.context.Device.Name, limits.MaxBindlessDescriptors, cfg.DescriptorCapacity)}
	}

	heap, err := NewDescriptorHeap(d.context, cfg.DescriptorCapacity)
	if err != nil {
		return err
	}
	d.heap = heap

	d.timeline = NewTimeline(d.context, 0)

	d.passes = NewRenderpassCache(d.context)
	return nil
}

func (d *Driver) createInstance(cfg Config) error {
	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(apiMajor, apiMinor, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.AppName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	var requiredExtensions []string
	if d.window != nil {
		requiredExtensions = append(requiredExtensions, d.window.RequiredInstanceExtensions()...)
	}
	if isDarwin() {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	// Validation layers.
	var requiredValidationLayerNames []string
	if cfg.Validation {
		core.LogInfo("Validation layers enabled. Enumerating...")
		found, err := instanceLayerAvailable(validationLayerName)
		if err != nil {
			return err
		}
		if found {
			requiredValidationLayerNames = []string{validationLayerName}
			requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
			d.context.debugReport = true
			core.LogInfo("All required validation layers are present.")
		} else {
			core.LogWarn("Required validation layer is missing: %s. Continuing without validation.", validationLayerName)
		}
	}

	core.LogDebug("Required extensions:")
	for _, ext := range requiredExtensions {
		core.LogDebug(ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(requiredValidationLayerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredValidationLayerNames)

	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &d.context.Instance); res != vk.Success {
		err := creationError("Vulkan instance", res)
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(d.context.Instance); err != nil {
		core.LogError(err.Error())
		return &rhi.CreationError{Subject: "Vulkan instance", Message: err.Error(), Err: err}
	}
	core.LogInfo("Vulkan Instance created.")

	// Debugger
	if d.context.debugReport {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(d.context.Instance, &debugCreateInfo, d.context.Allocator, &dbg); res != vk.Success {
			// Validation output is lost, rendering is not.
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", VulkanResultString(res, true))
		} else {
			d.context.debugCallback = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return nil
}

func instanceLayerAvailable(name string) (bool, error) {
	var availableLayerCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
		return false, runtimeError("instance layer query", res)
	}
	availableLayers := make([]vk.LayerProperties, availableLayerCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
		return false, runtimeError("instance layer query", res)
	}
	core.LogInfo("Searching for layer: %s...", name)
	for i := range availableLayers {
		availableLayers[i].Deref()
		if fixedString(availableLayers[i].LayerName[:]) == name {
			core.LogInfo("Found.")
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) Kind() rhi.BackendKind              { return rhi.BackendVulkan }
func (d *Driver) AdapterName() string                { return d.context.Device.Name }
func (d *Driver) Limits() rhi.Limits                 { return d.context.Device.limits() }
func (d *Driver) DescriptorHeap() rhi.DescriptorHeap { return d.heap }
func (d *Driver) Timeline() rhi.Timeline             { return d.timeline }

// Context exposes the native objects for tools that record their own work.
func (d *Driver) Context() *VulkanContext { return d.context }

func (d *Driver) CreateBuffer(desc *rhi.BufferDesc) (rhi.NativeBuffer, error) {
	return BufferCreate(d.context, desc)
}

func (d *Driver) CreateTexture(desc *rhi.TextureDesc) (rhi.NativeTexture, error) {
	return ImageCreate(d.context, desc)
}

func (d *Driver) CreateSampler(desc *rhi.SamplerDesc) (rhi.NativeSampler, error) {
	return SamplerCreate(d.context, desc)
}

func (d *Driver) CreateShaderModule(desc *rhi.ShaderModuleDesc) (rhi.NativeShaderModule, error) {
	return NewShaderModule(d.context, desc)
}

func (d *Driver) CreatePipelineLayout(desc *rhi.PipelineLayoutDesc) (rhi.NativePipelineLayout, error) {
	return NewPipelineLayout(d.context, d.heap, desc)
}

func (d *Driver) CreateGraphicsPipeline(desc *rhi.GraphicsPipelineDesc) (rhi.NativePipeline, error) {
	return NewGraphicsPipeline(d.context, d.passes, desc)
}

func (d *Driver) CreateComputePipeline(desc *rhi.ComputePipelineDesc) (rhi.NativePipeline, error) {
	return NewComputePipeline(d.context, desc)
}

// CreateSurface builds the swapchain for the driver's window. There is one
// window surface per driver, so only one swapchain may exist at a time.
func (d *Driver) CreateSurface(desc *rhi.SurfaceDesc) (rhi.NativeSurface, error) {
	if d.surfaceCreated {
		return nil, &rhi.CreationError{Subject: "swapchain " + desc.Label, Message: "the window surface already has a swapchain"}
	}
	if desc.Window == nil {
		desc.Window = d.window
	}
	sc, err := SwapchainCreate(d.context, desc)
	if err != nil {
		return nil, err
	}
	d.surfaceCreated = true
	return &ownedSwapchain{VulkanSwapchain: sc, driver: d}, nil
}

// ownedSwapchain frees the driver's surface slot on Destroy.
type ownedSwapchain struct {
	*VulkanSwapchain
	driver *Driver
}

func (s *ownedSwapchain) Destroy() {
	s.VulkanSwapchain.Destroy()
	s.driver.surfaceCreated = false
}

func (d *Driver) CreateCommandRecorder(label string) (rhi.CommandRecorder, error) {
	return NewVulkanCommandBuffer(d.context, d.heap, d.passes, label)
}

func (d *Driver) CreateBinarySemaphore(label string) (rhi.NativeSemaphore, error) {
	return NewBinarySemaphore(d.context, label)
}

// Submit executes the recorder on the graphics queue and raises the device
// timeline to info.TimelineValue when it completes.
func (d *Driver) Submit(info *rhi.SubmitInfo) error {
	cb := rhi.MustBackend[*VulkanCommandBuffer](info.Recorder)
	if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: command buffer %q submitted in state %d", core.ErrNotRecording, cb.label, cb.State)
	}

	var waits []vk.Semaphore
	var waitStages []vk.PipelineStageFlags
	if info.Wait != nil {
		waits = append(waits, rhi.MustBackend[*VulkanSemaphore](info.Wait).Handle)
		waitStages = append(waitStages, toVkStage(info.WaitStage))
	}
	var signals []vk.Semaphore
	if info.Signal != nil {
		signals = append(signals, rhi.MustBackend[*VulkanSemaphore](info.Signal).Handle)
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	if err := d.context.submitToGraphics(func(queue vk.Queue) error {
		submit := func(fence vk.Fence) error {
			if result := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence); result != vk.Success {
				return runtimeError("queue submit", result)
			}
			return nil
		}
		if info.TimelineValue == 0 {
			return submit(vk.NullFence)
		}
		return d.timeline.signal(info.TimelineValue, submit)
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	cb.UpdateSubmitted()
	return nil
}

// WaitIdle holds every queue lock while the device drains.
func (d *Driver) WaitIdle() error {
	device := d.context.Device
	if device.LogicalDevice == nil {
		return nil
	}
	wait := func(vk.Queue) error {
		if result := vk.DeviceWaitIdle(device.LogicalDevice); !VulkanResultIsSuccess(result) {
			return runtimeError("device wait idle", result)
		}
		return nil
	}
	if device.PresentQueueIndex == device.GraphicsQueueIndex {
		return d.context.submitToGraphics(wait)
	}
	return d.context.submitToGraphics(func(vk.Queue) error {
		return d.context.submitToPresent(wait)
	})
}

// Destroy releases everything in the opposite order of creation. Objects
// handed out by the Create methods must already be destroyed.
func (d *Driver) Destroy() {
	context := d.context
	if context.Device.LogicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			core.LogWarn("wait idle before shutdown: %s", err)
		}
	}
	if d.passes != nil {
		d.passes.Destroy()
		d.passes = nil
	}
	if d.timeline != nil {
		d.timeline.Destroy()
		d.timeline = nil
	}
	if d.heap != nil {
		d.heap.Destroy()
		d.heap = nil
	}

	if context.Device.LogicalDevice != nil {
		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(context)
	}

	if context.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = vk.NullSurface
	}

	if context.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(context.Instance, context.debugCallback, context.Allocator)
		context.debugCallback = vk.NullDebugReportCallback
	}

	if context.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(context.Instance, context.Allocator)
		context.Instance = nil
	}
}
