package rhi

import (
	"fmt"
	"math"
)

type BackendKind uint8

const (
	BackendVulkan BackendKind = iota
	BackendHeadless
)

func (k BackendKind) String() string {
	switch k {
	case BackendVulkan:
		return "vulkan"
	case BackendHeadless:
		return "headless"
	default:
		return fmt.Sprintf("backend(%d)", uint8(k))
	}
}

func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "vulkan":
		return BackendVulkan, nil
	case "headless":
		return BackendHeadless, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

type Format uint32

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatR32Float
	FormatRG32Float
	FormatRGBA16Float
	FormatRGBA32Float
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD24UnormS8Uint || f == FormatD32FloatS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32FloatS8Uint
}

// BytesPerPixel returns 0 for formats without a fixed texel size.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatRGBA8Srgb, FormatBGRA8Unorm, FormatBGRA8Srgb, FormatR32Float, FormatD32Float, FormatD24UnormS8Uint:
		return 4
	case FormatRG32Float, FormatRGBA16Float, FormatD32FloatS8Uint:
		return 8
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "rgba8_unorm"
	case FormatRGBA8Srgb:
		return "rgba8_srgb"
	case FormatBGRA8Unorm:
		return "bgra8_unorm"
	case FormatBGRA8Srgb:
		return "bgra8_srgb"
	case FormatR32Float:
		return "r32_float"
	case FormatRG32Float:
		return "rg32_float"
	case FormatRGBA16Float:
		return "rgba16_float"
	case FormatRGBA32Float:
		return "rgba32_float"
	case FormatD32Float:
		return "d32_float"
	case FormatD24UnormS8Uint:
		return "d24_unorm_s8_uint"
	case FormatD32FloatS8Uint:
		return "d32_float_s8_uint"
	}
	return "undefined"
}

type ColorSpace uint8

const (
	ColorSpaceSrgbNonlinear ColorSpace = iota
	ColorSpaceOther
)

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode uint8

const (
	PresentModeFifo PresentMode = iota
	PresentModeFifoRelaxed
	PresentModeMailbox
	PresentModeImmediate
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo_relaxed"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeImmediate:
		return "immediate"
	}
	return "unknown"
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// ExtentUndefined in SurfaceCapabilities.CurrentExtent means the surface
// size follows whatever extent the swapchain requests.
const ExtentUndefined uint32 = math.MaxUint32

type SurfaceCapabilities struct {
	CurrentExtent  Extent2D
	MinImageExtent Extent2D
	MaxImageExtent Extent2D
	MinImageCount  uint32
	// 0 means no upper bound.
	MaxImageCount uint32
}

type MemoryLocation uint8

const (
	MemoryDeviceLocal MemoryLocation = iota
	MemoryHostUpload
	MemoryHostReadback
)

func (l MemoryLocation) HostVisible() bool {
	return l == MemoryHostUpload || l == MemoryHostReadback
}

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type TextureUsage uint32

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthAttachment
	TextureUsageTransferSrc
	TextureUsageTransferDst
)

type BufferDesc struct {
	Label    string
	Size     uint64
	Usage    BufferUsage
	Location MemoryLocation
}

// GPUVisible buffers get a slot in the bindless table.
func (d *BufferDesc) GPUVisible() bool {
	return d.Usage&(BufferUsageUniform|BufferUsageStorage) != 0
}

type TextureDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    Format
	Usage     TextureUsage
	Location  MemoryLocation
	// When set the texture is published as a combined image+sampler instead
	// of a plain sampled image.
	Sampler *Sampler
}

func (d *TextureDesc) GPUVisible() bool {
	return d.Usage&(TextureUsageSampled|TextureUsageStorage) != 0
}

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterNearest
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
	AddressClampToBorder
)

type SamplerDesc struct {
	Label         string
	MinFilter     Filter
	MagFilter     Filter
	MipFilter     Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MaxAnisotropy float32
}

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return fmt.Sprintf("stages(%#x)", uint32(s))
}

// ShaderModuleDesc carries pre-compiled bytecode. Code wins over Path when
// both are set.
type ShaderModuleDesc struct {
	Label string
	Stage ShaderStage
	Code  []byte
	Path  string
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type PipelineLayoutDesc struct {
	Label         string
	PushConstants []PushConstantRange
	// Bindless layouts see the device descriptor heap at set 0.
	Bindless bool
}

type ShaderRef struct {
	Module     *ShaderModule
	EntryPoint string
}

func (r ShaderRef) Entry() string {
	if r.EntryPoint == "" {
		return "main"
	}
	return r.EntryPoint
}

type BlendFactor uint8

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstAlpha
	BlendOneMinusDstAlpha
	BlendSrcColor
	BlendOneMinusSrcColor
)

type BlendOp uint8

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpReverseSubtract
	BlendOpMin
	BlendOpMax
)

type ColorWriteMask uint8

const (
	ColorWriteR ColorWriteMask = 1 << iota
	ColorWriteG
	ColorWriteB
	ColorWriteA

	ColorWriteAll = ColorWriteR | ColorWriteG | ColorWriteB | ColorWriteA
)

type BlendState struct {
	Enabled   bool
	SrcColor  BlendFactor
	DstColor  BlendFactor
	ColorOp   BlendOp
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
	AlphaOp   BlendOp
	WriteMask ColorWriteMask
}

func NoBlending() BlendState {
	return BlendState{WriteMask: ColorWriteAll}
}

func AlphaBlending() BlendState {
	return BlendState{
		Enabled:   true,
		SrcColor:  BlendSrcAlpha,
		DstColor:  BlendOneMinusSrcAlpha,
		ColorOp:   BlendOpAdd,
		SrcAlpha:  BlendSrcAlpha,
		DstAlpha:  BlendOneMinusSrcAlpha,
		AlphaOp:   BlendOpAdd,
		WriteMask: ColorWriteAll,
	}
}

type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
	CullFrontAndBack
)

type FrontFace uint8

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type PolygonMode uint8

const (
	PolygonFill PolygonMode = iota
	PolygonLine
)

type RasterState struct {
	Cull      CullMode
	FrontFace FrontFace
	Polygon   PolygonMode
	LineWidth float32
}

type CompareOp uint8

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterOrEqual
	CompareAlways
)

type DepthState struct {
	Test    bool
	Write   bool
	Compare CompareOp
}

type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type GraphicsPipelineDesc struct {
	Label    string
	Layout   *PipelineLayout
	Vertex   ShaderRef
	Fragment ShaderRef
	Topology Topology
	Raster   RasterState
	Depth    DepthState
	// One entry per color attachment. Missing entries default to NoBlending.
	Blend        []BlendState
	ColorFormats []Format
	DepthFormat  Format
}

func (d *GraphicsPipelineDesc) BlendFor(attachment int) BlendState {
	if attachment < len(d.Blend) {
		return d.Blend[attachment]
	}
	return NoBlending()
}

type ComputePipelineDesc struct {
	Label   string
	Layout  *PipelineLayout
	Compute ShaderRef
}

type BindPoint uint8

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

type ImageLayout uint8

const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachment:
		return "color_attachment"
	case LayoutDepthAttachment:
		return "depth_attachment"
	case LayoutShaderReadOnly:
		return "shader_read_only"
	case LayoutTransferSrc:
		return "transfer_src"
	case LayoutTransferDst:
		return "transfer_dst"
	case LayoutPresent:
		return "present"
	}
	return "unknown"
}

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageVertexShader
	StageFragmentShader
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageAllCommands
)

// LabelColor tints debug markers in capture tools.
type LabelColor [4]float32

var (
	LabelColorRenderPass = LabelColor{0.35, 0.60, 0.95, 1.0}
	LabelColorCompute    = LabelColor{0.95, 0.55, 0.20, 1.0}
	LabelColorTransfer   = LabelColor{0.40, 0.85, 0.45, 1.0}
	LabelColorPresent    = LabelColor{0.80, 0.80, 0.80, 1.0}
)

type ColorAttachment struct {
	Texture    NativeTexture
	Clear      bool
	ClearColor [4]float32
}

type DepthAttachment struct {
	Texture    NativeTexture
	Clear      bool
	ClearDepth float32
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect2D struct {
	X, Y   int32
	Extent Extent2D
}

type Limits struct {
	MaxPushConstantSize       uint32
	MaxSamplerAnisotropy      float32
	MaxImageDimension2D       uint32
	MaxBindlessDescriptors    uint32
	MinUniformBufferAlignment uint64
}
