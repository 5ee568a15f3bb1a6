package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const spirvMagic uint32 = 0x07230203

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderModule struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	stage  rhi.ShaderStage

	context *VulkanContext
}

// SpirvWords validates SPIR-V bytecode and converts it to the word slice the
// driver expects.
func SpirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("bytecode size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad SPIR-V magic %#08x", words[0])
	}
	return words, nil
}

func NewShaderModule(context *VulkanContext, desc *rhi.ShaderModuleDesc) (*VulkanShaderModule, error) {
	code := desc.Code
	if len(code) == 0 {
		if desc.Path == "" {
			return nil, &rhi.CreationError{Subject: "shader module " + desc.Label, Message: "no code and no path"}
		}
		data, err := os.ReadFile(desc.Path)
		if err != nil {
			core.LogError("unable to read shader module: %s", desc.Path)
			return nil, &rhi.CreationError{Subject: "shader module " + desc.Label, Message: err.Error(), Err: err}
		}
		code = data
	}
	words, err := SpirvWords(code)
	if err != nil {
		return nil, &rhi.CreationError{Subject: "shader module " + desc.Label, Message: err.Error()}
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	module := &VulkanShaderModule{stage: desc.Stage, context: context}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module.Handle); res != vk.Success {
		return nil, creationError("shader module "+desc.Label, res)
	}
	context.setObjectName(vk.ObjectTypeShaderModule, unsafe.Pointer(module.Handle), desc.Label)
	return module, nil
}

func (m *VulkanShaderModule) Stage() rhi.ShaderStage { return m.stage }

// stageInfo builds the pipeline stage for ref.
func stageInfo(ref rhi.ShaderRef) vk.PipelineShaderStageCreateInfo {
	module := rhi.MustBackend[*VulkanShaderModule](ref.Module.Native())
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(toVkShaderStages(module.stage)),
		Module: module.Handle,
		PName:  VulkanSafeString(ref.Entry()),
	}
}

func (m *VulkanShaderModule) Destroy() {
	if m.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(m.context.Device.LogicalDevice, m.Handle, m.context.Allocator)
		m.Handle = vk.NullShaderModule
	}
}
