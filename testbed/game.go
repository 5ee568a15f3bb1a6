package testbed

import (
	"encoding/binary"
	"image"
	"image/color"
	gomath "math"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

const (
	VertexShader   = "triangle.vert.spv"
	FragmentShader = "triangle.frag.spv"

	// push constant block: vertex buffer index, texture index, time
	pushConstantSize = 16
	checkerSize      = 64
)

// A vertex as the shader pulls it from the bindless buffer array: position
// then uv, both vec2, std430.
var triangle = []float32{
	0.0, -0.6, 0.5, 0.0,
	0.6, 0.6, 1.0, 1.0,
	-0.6, 0.6, 0.0, 1.0,
}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine *engine.Engine
	device *rhi.Device

	vertices *rhi.Buffer
	sampler  *rhi.Sampler
	checker  *rhi.Texture
	// released after the frame that records the upload
	staging  *rhi.Buffer
	uploaded bool

	layout   *rhi.PipelineLayout
	pipeline *rhi.Pipeline
	format   rhi.Format

	elapsed time.Duration
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "Anima RHI testbed",
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShadersReloaded = tg.ShadersReloaded
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	s := g.state()
	s.engine = e
	s.device = e.Device()
	s.format = e.FrameRing().Surface().Format().Format

	vertexData := make([]byte, 4*len(triangle))
	for i, f := range triangle {
		binary.LittleEndian.PutUint32(vertexData[i*4:], gomath.Float32bits(f))
	}
	vertices, err := s.device.CreateBuffer(rhi.BufferDesc{
		Label:    "triangle vertices",
		Size:     uint64(len(vertexData)),
		Usage:    rhi.BufferUsageStorage,
		Location: rhi.MemoryHostUpload,
	})
	if err != nil {
		return err
	}
	s.vertices = vertices
	if err := vertices.Write(0, vertexData); err != nil {
		return err
	}

	sampler, err := s.device.CreateSampler(rhi.SamplerDesc{
		Label:         "checker sampler",
		MinFilter:     rhi.FilterNearest,
		MagFilter:     rhi.FilterNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return err
	}
	s.sampler = sampler

	if err := g.createChecker(s); err != nil {
		return err
	}

	layout, err := s.device.CreatePipelineLayout(rhi.PipelineLayoutDesc{
		Label:    "triangle layout",
		Bindless: true,
		PushConstants: []rhi.PushConstantRange{
			{Stages: rhi.ShaderStageAllGraphics, Offset: 0, Size: pushConstantSize},
		},
	})
	if err != nil {
		return err
	}
	s.layout = layout

	return g.createPipeline(s)
}

func checkerboard(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	light := color.NRGBA{R: 230, G: 230, B: 230, A: 255}
	dark := color.NRGBA{R: 40, G: 90, B: 160, A: 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/8+y/8)%2 == 0 {
				img.Set(x, y, light)
			} else {
				img.Set(x, y, dark)
			}
		}
	}
	return img
}

// createChecker fills a staging buffer; the copy itself is recorded into the
// first frame.
func (g *TestGame) createChecker(s *gameState) error {
	pixels, extent := rhi.TextureDataFromImage(checkerboard(checkerSize), rhi.Extent2D{})

	staging, err := s.device.CreateBuffer(rhi.BufferDesc{
		Label:    "checker staging",
		Size:     uint64(len(pixels)),
		Usage:    rhi.BufferUsageTransferSrc,
		Location: rhi.MemoryHostUpload,
	})
	if err != nil {
		return err
	}
	if err := staging.Write(0, pixels); err != nil {
		staging.Release()
		return err
	}
	s.staging = staging

	checker, err := s.device.CreateTexture(rhi.TextureDesc{
		Label:     "checker",
		Width:     extent.Width,
		Height:    extent.Height,
		MipLevels: 1,
		Format:    rhi.FormatRGBA8Unorm,
		Usage:     rhi.TextureUsageSampled | rhi.TextureUsageTransferDst,
		Location:  rhi.MemoryDeviceLocal,
		Sampler:   s.sampler,
	})
	if err != nil {
		return err
	}
	s.checker = checker
	return nil
}

func (g *TestGame) createPipeline(s *gameState) error {
	vs, err := s.engine.Shaders().Get(VertexShader)
	if err != nil {
		return err
	}
	fs, err := s.engine.Shaders().Get(FragmentShader)
	if err != nil {
		return err
	}
	pipeline, err := s.device.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Label:        "triangle",
		Layout:       s.layout,
		Vertex:       rhi.ShaderRef{Module: vs},
		Fragment:     rhi.ShaderRef{Module: fs},
		Topology:     rhi.TopologyTriangleList,
		Raster:       rhi.RasterState{Cull: rhi.CullNone, FrontFace: rhi.FrontFaceCounterClockwise},
		ColorFormats: []rhi.Format{s.format},
	})
	if err != nil {
		return err
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	s.pipeline = pipeline
	return nil
}

func (g *TestGame) Update(deltaTime time.Duration) error {
	g.state().elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(frame *engine.FrameContext) error {
	s := g.state()
	rec := frame.Recorder

	if !s.uploaded {
		rhi.RecordTextureUpload(rec, s.staging, s.checker)
		// Destroyed once this frame completes.
		s.staging.Release()
		s.staging = nil
		s.uploaded = true
	}

	rec.BeginMarker("triangle", rhi.LabelColorRenderPass)
	defer rec.EndMarker()

	if err := rec.BeginRendering([]rhi.ColorAttachment{{
		Texture:    frame.Target,
		Clear:      true,
		ClearColor: [4]float32{0.05, 0.05, 0.08, 1},
	}}, nil); err != nil {
		return err
	}
	rec.SetViewport(rhi.Viewport{
		Width:    float32(frame.Extent.Width),
		Height:   float32(frame.Extent.Height),
		MaxDepth: 1,
	})
	rec.SetScissor(rhi.Rect2D{Extent: frame.Extent})

	s.pipeline.Bind(rec)
	push := make([]byte, pushConstantSize)
	binary.LittleEndian.PutUint32(push[0:], s.vertices.Index())
	binary.LittleEndian.PutUint32(push[4:], s.checker.Index())
	binary.LittleEndian.PutUint32(push[8:], gomath.Float32bits(float32(s.elapsed.Seconds())))
	rec.PushConstants(s.layout.Native(), rhi.ShaderStageAllGraphics, 0, push)
	rec.Draw(3, 1, 0, 0)

	rec.EndRendering()
	return nil
}

func (g *TestGame) OnResize(extent rhi.Extent2D) error {
	core.LogDebug("testbed resized to %s", extent)
	return nil
}

func (g *TestGame) ShadersReloaded(names []string) error {
	s := g.state()
	for _, name := range names {
		if name == VertexShader || name == FragmentShader {
			core.LogInfo("rebuilding triangle pipeline")
			return g.createPipeline(s)
		}
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.layout != nil {
		s.layout.Release()
	}
	if s.staging != nil {
		s.staging.Release()
	}
	if s.checker != nil {
		s.checker.Release()
	}
	if s.sampler != nil {
		s.sampler.Release()
	}
	if s.vertices != nil {
		s.vertices.Release()
	}
	return nil
}
