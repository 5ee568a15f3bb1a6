package vulkan

/**
 * @brief Bindings of the bindless descriptor set. Shaders see set 0 with one
 * runtime-sized array per descriptor kind.
 */
const (
	BindlessBufferBinding   uint32 = 0
	BindlessTextureBinding  uint32 = 1
	BindlessSamplerBinding  uint32 = 2
	BindlessCombinedBinding uint32 = 3

	bindlessBindingCount = 4
)

/** @brief The API version the instance and device are created against. */
const apiMajor, apiMinor = 1, 2

const validationLayerName = "VK_LAYER_KHRONOS_validation"

const portabilitySubsetExtensionName = "VK_KHR_portability_subset"
