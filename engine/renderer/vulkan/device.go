package vulkan

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	Name           string

	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format

	portabilitySubset bool
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	Transfer             bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	// Descriptor indexing is core in 1.2 but optional. The binding has no
	// feature2 query, so support is read from the advertised extension.
	DescriptorIndexing bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

type physicalDeviceCandidate struct {
	device     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	features   vk.PhysicalDeviceFeatures
	memory     vk.PhysicalDeviceMemoryProperties
	queues     VulkanPhysicalDeviceQueueFamilyInfo
	score      uint64
}

func deviceRequirements(present bool) *VulkanPhysicalDeviceRequirements {
	req := &VulkanPhysicalDeviceRequirements{
		Graphics:           true,
		Present:            present,
		Compute:            true,
		Transfer:           true,
		SamplerAnisotropy:  true,
		DescriptorIndexing: true,
	}
	if present {
		req.DeviceExtensionNames = append(req.DeviceExtensionNames, vk.KhrSwapchainExtensionName)
	}
	if req.DescriptorIndexing {
		req.DeviceExtensionNames = append(req.DeviceExtensionNames, vk.ExtDescriptorIndexingExtensionName)
	}
	return req
}

// rateDeviceType orders adapters discrete > integrated > virtual > cpu.
func rateDeviceType(t vk.PhysicalDeviceType) uint64 {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 4
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 3
	case vk.PhysicalDeviceTypeVirtualGpu:
		return 2
	case vk.PhysicalDeviceTypeCpu:
		return 1
	}
	return 0
}

// rateDevice puts the adapter type in the high bits and device-local memory
// in MiB in the low bits, so type always wins and memory breaks ties.
func rateDevice(t vk.PhysicalDeviceType, localMemory uint64) uint64 {
	mib := localMemory >> 20
	if mib >= 1<<40 {
		mib = 1<<40 - 1
	}
	return rateDeviceType(t)<<40 | mib
}

func localMemorySize(memory *vk.PhysicalDeviceMemoryProperties) uint64 {
	var total uint64
	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			total += uint64(memory.MemoryHeaps[j].Size)
		}
	}
	return total
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "Integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "Discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "Virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "CPU"
	}
	return "Unknown"
}

// SelectPhysicalDevice rates every adapter that meets the requirements and
// keeps the best one. No candidate at all is a SuitabilityError.
func SelectPhysicalDevice(context *VulkanContext, requirements *VulkanPhysicalDeviceRequirements) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return creationError("physical device list", res)
	}
	if physicalDeviceCount == 0 {
		return &rhi.SuitabilityError{Reason: "no devices which support Vulkan were found"}
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return creationError("physical device list", res)
	}

	var candidates []physicalDeviceCandidate
	var rejected []string
	for _, pd := range physicalDevices {
		c := physicalDeviceCandidate{device: pd}
		vk.GetPhysicalDeviceProperties(pd, &c.properties)
		c.properties.Deref()
		c.properties.Limits.Deref()
		vk.GetPhysicalDeviceFeatures(pd, &c.features)
		c.features.Deref()
		vk.GetPhysicalDeviceMemoryProperties(pd, &c.memory)
		c.memory.Deref()

		name := fixedString(c.properties.DeviceName[:])
		if reason := PhysicalDeviceMeetsRequirements(pd, context.Surface, &c.properties, &c.features, requirements, &c.queues); reason != "" {
			core.LogInfo("Skipping device '%s': %s.", name, reason)
			rejected = append(rejected, fmt.Sprintf("%s: %s", name, reason))
			continue
		}
		c.score = rateDevice(c.properties.DeviceType, localMemorySize(&c.memory))
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return &rhi.SuitabilityError{Reason: strings.Join(rejected, "; ")}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]

	device := context.Device
	device.PhysicalDevice = best.device
	device.Name = fixedString(best.properties.DeviceName[:])
	device.GraphicsQueueIndex = best.queues.GraphicsFamilyIndex
	device.PresentQueueIndex = best.queues.PresentFamilyIndex
	device.TransferQueueIndex = best.queues.TransferFamilyIndex
	if device.PresentQueueIndex < 0 {
		device.PresentQueueIndex = device.GraphicsQueueIndex
	}
	// Keep a copy of properties, features and memory info for later use.
	device.Properties = best.properties
	device.Features = best.features
	device.Memory = best.memory

	core.LogInfo("Selected device: '%s'.", device.Name)
	core.LogInfo("GPU type is %s.", deviceTypeName(best.properties.DeviceType))
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version(best.properties.DriverVersion).Major(),
		vk.Version(best.properties.DriverVersion).Minor(),
		vk.Version(best.properties.DriverVersion).Patch(),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version(best.properties.ApiVersion).Major(),
		vk.Version(best.properties.ApiVersion).Minor(),
		vk.Version(best.properties.ApiVersion).Patch(),
	)
	core.LogInfo("Local GPU memory: %d MiB", localMemorySize(&device.Memory)>>20)
	return nil
}

// PhysicalDeviceMeetsRequirements returns an empty string when the device is
// usable, otherwise the reason it is not.
func PhysicalDeviceMeetsRequirements(
	device vk.PhysicalDevice,
	surface vk.Surface,
	properties *vk.PhysicalDeviceProperties,
	features *vk.PhysicalDeviceFeatures,
	requirements *VulkanPhysicalDeviceRequirements,
	outQueueInfo *VulkanPhysicalDeviceQueueFamilyInfo,
) string {
	*outQueueInfo = VulkanPhysicalDeviceQueueFamilyInfo{-1, -1, -1, -1}

	if properties.ApiVersion < uint32(vk.MakeVersion(apiMajor, apiMinor, 0)) {
		return fmt.Sprintf("Vulkan %d.%d is required", apiMajor, apiMinor)
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	// Look at each queue and see what queues it supports
	minTransferScore := 255
	for i := 0; i < int(queueFamilyCount); i++ {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		currentTransferScore := 0

		if flags&vk.QueueGraphicsBit != 0 {
			if outQueueInfo.GraphicsFamilyIndex < 0 {
				outQueueInfo.GraphicsFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		if flags&vk.QueueComputeBit != 0 {
			if outQueueInfo.ComputeFamilyIndex < 0 {
				outQueueInfo.ComputeFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		// Take the transfer index with the fewest other capabilities. This
		// increases the likelihood that it is a dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && currentTransferScore <= minTransferScore {
			minTransferScore = currentTransferScore
			outQueueInfo.TransferFamilyIndex = int32(i)
		}

		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
				return "surface support query failed: " + VulkanResultString(res, false)
			}
			// Prefer presenting from the graphics family.
			if supportsPresent == vk.True && (outQueueInfo.PresentFamilyIndex < 0 || int32(i) == outQueueInfo.GraphicsFamilyIndex) {
				outQueueInfo.PresentFamilyIndex = int32(i)
			}
		}
	}
	// Graphics queues always support transfer, even when not advertised.
	if outQueueInfo.TransferFamilyIndex < 0 {
		outQueueInfo.TransferFamilyIndex = outQueueInfo.GraphicsFamilyIndex
	}

	core.LogDebug("Graphics | Present | Compute | Transfer | Name")
	core.LogDebug("%8d | %7d | %7d | %8d | %s",
		outQueueInfo.GraphicsFamilyIndex,
		outQueueInfo.PresentFamilyIndex,
		outQueueInfo.ComputeFamilyIndex,
		outQueueInfo.TransferFamilyIndex,
		fixedString(properties.DeviceName[:]))

	switch {
	case requirements.Graphics && outQueueInfo.GraphicsFamilyIndex < 0:
		return "no graphics queue"
	case requirements.Present && outQueueInfo.PresentFamilyIndex < 0:
		return "no queue can present to the surface"
	case requirements.Compute && outQueueInfo.ComputeFamilyIndex < 0:
		return "no compute queue"
	case requirements.Transfer && outQueueInfo.TransferFamilyIndex < 0:
		return "no transfer queue"
	}

	if requirements.Present {
		support, err := DeviceQuerySwapchainSupport(device, surface)
		if err != nil {
			return err.Error()
		}
		if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
			return "required swapchain support not present"
		}
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		available, err := deviceExtensions(device)
		if err != nil {
			return err.Error()
		}
		for _, name := range requirements.DeviceExtensionNames {
			if _, ok := available[name]; !ok {
				return fmt.Sprintf("required extension not found: '%s'", name)
			}
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		return "samplerAnisotropy is not supported"
	}

	return ""
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return nil, runtimeError("device extension query", res)
	}
	out := make(map[string]struct{}, count)
	if count == 0 {
		return out, nil
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vk.Success {
		return nil, runtimeError("device extension query", res)
	}
	for i := range props {
		props[i].Deref()
		out[fixedString(props[i].ExtensionName[:])] = struct{}{}
	}
	return out, nil
}

// DeviceCreate selects an adapter and creates the logical device, its queues
// and the graphics command pool.
func DeviceCreate(context *VulkanContext) error {
	present := context.Surface != vk.NullSurface
	if err := SelectPhysicalDevice(context, deviceRequirements(present)); err != nil {
		return err
	}
	device := context.Device

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	for _, idx := range []int32{device.PresentQueueIndex, device.TransferQueueIndex} {
		shared := false
		for _, have := range indices {
			if have == uint32(idx) {
				shared = true
				break
			}
		}
		if !shared {
			indices = append(indices, uint32(idx))
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, idx := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: idx,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	available, err := deviceExtensions(device.PhysicalDevice)
	if err != nil {
		return err
	}
	var extensionNames []string
	if present {
		extensionNames = append(extensionNames, vk.KhrSwapchainExtensionName)
	}
	if _, ok := available[portabilitySubsetExtensionName]; ok {
		core.LogInfo("Adding required extension '%s'.", portabilitySubsetExtensionName)
		extensionNames = append(extensionNames, portabilitySubsetExtensionName)
		device.portabilitySubset = true
	}

	enabled12 := vk.PhysicalDeviceVulkan12Features{
		SType: vk.StructureTypePhysicalDeviceVulkan12Features,

		DescriptorIndexing:                            vk.True,
		RuntimeDescriptorArray:                        vk.True,
		DescriptorBindingPartiallyBound:               vk.True,
		DescriptorBindingVariableDescriptorCount:      vk.True,
		DescriptorBindingSampledImageUpdateAfterBind:  vk.True,
		DescriptorBindingStorageBufferUpdateAfterBind: vk.True,
		DescriptorBindingUpdateUnusedWhilePending:     vk.True,
		ShaderSampledImageArrayNonUniformIndexing:     vk.True,
	}
	ref12, _ := enabled12.PassRef()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(ref12),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{SamplerAnisotropy: vk.True}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical); res != vk.Success {
		return creationError("logical device", res)
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(logical, uint32(device.GraphicsQueueIndex), 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(logical, uint32(device.PresentQueueIndex), 0, &device.PresentQueue)
	vk.GetDeviceQueue(logical, uint32(device.TransferQueueIndex), 0, &device.TransferQueue)
	core.LogInfo("Queues obtained.")

	// Create command pool for graphics queue.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(logical, &poolCreateInfo, context.Allocator, &device.GraphicsCommandPool); res != vk.Success {
		vk.DestroyDevice(logical, context.Allocator)
		device.LogicalDevice = nil
		return creationError("graphics command pool", res)
	}
	core.LogInfo("Graphics command pool created.")

	if !DeviceDetectDepthFormat(device) {
		core.LogWarn("No depth format with attachment support was found.")
	}
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	// Unset queues
	device.GraphicsQueue = nil
	device.PresentQueue = nil
	device.TransferQueue = nil

	core.LogInfo("Destroying command pools...")
	if device.GraphicsCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(device.LogicalDevice, device.GraphicsCommandPool, context.Allocator)
		device.GraphicsCommandPool = vk.NullCommandPool
	}

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.GraphicsQueueIndex = -1
	device.PresentQueueIndex = -1
	device.TransferQueueIndex = -1
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*VulkanSwapchainSupportInfo, error) {
	support := &VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &support.Capabilities); res != vk.Success {
		return nil, runtimeError("surface capabilities query", res)
	}
	support.Capabilities.Deref()
	support.Capabilities.CurrentExtent.Deref()
	support.Capabilities.MinImageExtent.Deref()
	support.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return nil, runtimeError("surface format query", res)
	}
	if formatCount != 0 {
		support.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, support.Formats); res != vk.Success {
			return nil, runtimeError("surface format query", res)
		}
		for i := range support.Formats {
			support.Formats[i].Deref()
		}
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, nil); res != vk.Success {
		return nil, runtimeError("surface present mode query", res)
	}
	if presentModeCount != 0 {
		support.PresentModes = make([]vk.PresentMode, presentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &presentModeCount, support.PresentModes); res != vk.Success {
			return nil, runtimeError("surface present mode query", res)
		}
	}
	return support, nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.LinearTilingFeatures)&flags == flags ||
			vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	device.DepthFormat = vk.FormatUndefined
	return false
}

// limits translates the device limits into the neutral Limits, capping the
// bindless array size at what update-after-bind allows.
func (device *VulkanDevice) limits() rhi.Limits {
	l := device.Properties.Limits
	bindless := l.MaxPerStageDescriptorSamplers
	for _, v := range []uint32{l.MaxPerStageDescriptorSampledImages, l.MaxPerStageDescriptorStorageBuffers, l.MaxDescriptorSetSampledImages} {
		if v < bindless {
			bindless = v
		}
	}
	return rhi.Limits{
		MaxPushConstantSize:       l.MaxPushConstantsSize,
		MaxSamplerAnisotropy:      l.MaxSamplerAnisotropy,
		MaxImageDimension2D:       l.MaxImageDimension2D,
		MaxBindlessDescriptors:    bindless,
		MinUniformBufferAlignment: uint64(l.MinUniformBufferOffsetAlignment),
	}
}

func isDarwin() bool {
	return runtime.GOOS == "darwin"
}
