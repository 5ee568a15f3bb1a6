// Package headless is a device that runs entirely in host memory. It keeps a
// software timeline and validates object lifetimes, which makes it the
// backend every frame ring and destruction queue test runs on.
package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Option func(*Driver)

// WithManualCompletion stops the timeline from completing work on submit;
// tests advance it with Complete.
func WithManualCompletion() Option {
	return func(d *Driver) { d.manual = true }
}

func WithAdapterName(name string) Option {
	return func(d *Driver) { d.name = name }
}

func WithLimits(limits rhi.Limits) Option {
	return func(d *Driver) { d.limits = limits }
}

func WithSurfaceCapabilities(caps rhi.SurfaceCapabilities) Option {
	return func(d *Driver) { d.caps = caps }
}

func WithSurfaceFormats(formats ...rhi.SurfaceFormat) Option {
	return func(d *Driver) { d.formats = formats }
}

func WithPresentModes(modes ...rhi.PresentMode) Option {
	return func(d *Driver) { d.modes = modes }
}

// Submission is what the driver remembers about one Submit call.
type Submission struct {
	Recorder      string
	Commands      []string
	TimelineValue uint64
}

type Driver struct {
	manual  bool
	name    string
	limits  rhi.Limits
	caps    rhi.SurfaceCapabilities
	formats []rhi.SurfaceFormat
	modes   []rhi.PresentMode

	timeline *Timeline
	heap     *Heap

	mu          sync.Mutex
	live        map[*object]struct{}
	violations  []string
	submissions []Submission
	lost        bool
	failSubmit  error
}

func New(opts ...Option) *Driver {
	d := &Driver{
		name: "headless",
		limits: rhi.Limits{
			MaxPushConstantSize:       128,
			MaxSamplerAnisotropy:      16,
			MaxImageDimension2D:       16384,
			MaxBindlessDescriptors:    1 << 20,
			MinUniformBufferAlignment: 256,
		},
		caps: rhi.SurfaceCapabilities{
			CurrentExtent:  rhi.Extent2D{Width: rhi.ExtentUndefined, Height: rhi.ExtentUndefined},
			MinImageExtent: rhi.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: rhi.Extent2D{Width: 4096, Height: 4096},
			MinImageCount:  2,
			MaxImageCount:  8,
		},
		formats: []rhi.SurfaceFormat{
			{Format: rhi.FormatBGRA8Srgb, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
			{Format: rhi.FormatBGRA8Unorm, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
		},
		modes: []rhi.PresentMode{rhi.PresentModeFifo, rhi.PresentModeMailbox},
		live:  make(map[*object]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.timeline = newTimeline(d, d.manual)
	d.heap = newHeap(d, d.limits.MaxBindlessDescriptors)
	return d
}

func (d *Driver) Kind() rhi.BackendKind              { return rhi.BackendHeadless }
func (d *Driver) AdapterName() string                { return d.name }
func (d *Driver) Limits() rhi.Limits                 { return d.limits }
func (d *Driver) DescriptorHeap() rhi.DescriptorHeap { return d.heap }
func (d *Driver) Timeline() rhi.Timeline             { return d.timeline }

// Heap gives tests access to what was written to the descriptor heap.
func (d *Driver) Heap() *Heap { return d.heap }

func (d *Driver) remember(o *object) {
	d.mu.Lock()
	d.live[o] = struct{}{}
	d.mu.Unlock()
}

func (d *Driver) forget(o *object) {
	d.checkIdle(o, "destroyed")
	d.mu.Lock()
	delete(d.live, o)
	d.mu.Unlock()
}

// checkIdle records a violation when o is still referenced by work the
// timeline has not completed.
func (d *Driver) checkIdle(o *object, what string) {
	last := o.lastUse.Load()
	if last == 0 {
		return
	}
	completed, err := d.timeline.Completed()
	if err == nil && last > completed {
		d.violation("%s %s while in use by timeline value %d (completed %d)", o, what, last, completed)
	}
}

func (d *Driver) violation(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("headless: %s", msg)
	d.mu.Lock()
	d.violations = append(d.violations, msg)
	d.mu.Unlock()
}

// Violations lists every lifetime or recording rule broken so far.
func (d *Driver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.violations))
	copy(out, d.violations)
	return out
}

// LiveObjects counts objects not yet destroyed, by kind. The timeline and
// descriptor heap are not counted.
func (d *Driver) LiveObjects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for o := range d.live {
		out[o.kind]++
	}
	return out
}

func (d *Driver) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submissions))
	copy(out, d.submissions)
	return out
}

// Complete marks all work up to value as finished on the device.
func (d *Driver) Complete(value uint64) {
	d.timeline.complete(value)
}

// SetDeviceLost makes every later device operation fail with core.ErrDeviceLost.
func (d *Driver) SetDeviceLost() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
	d.timeline.setLost()
}

// FailNextSubmit makes the next Submit return err without executing.
func (d *Driver) FailNextSubmit(err error) {
	d.mu.Lock()
	d.failSubmit = err
	d.mu.Unlock()
}

func (d *Driver) isLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Driver) CreateBuffer(desc *rhi.BufferDesc) (rhi.NativeBuffer, error) {
	b := &Buffer{location: desc.Location, data: make([]byte, desc.Size)}
	b.init(d, "buffer", desc.Label)
	d.remember(&b.object)
	return b, nil
}

func (d *Driver) CreateTexture(desc *rhi.TextureDesc) (rhi.NativeTexture, error) {
	if desc.Width > d.limits.MaxImageDimension2D || desc.Height > d.limits.MaxImageDimension2D {
		return nil, &rhi.CreationError{Subject: "texture", Message: fmt.Sprintf("%dx%d exceeds the device limit", desc.Width, desc.Height)}
	}
	if desc.Format == rhi.FormatUndefined {
		return nil, &rhi.CreationError{Subject: "texture", Message: "undefined format"}
	}
	t := &Texture{extent: rhi.Extent2D{Width: desc.Width, Height: desc.Height}, format: desc.Format}
	t.init(d, "texture", desc.Label)
	d.remember(&t.object)
	return t, nil
}

func (d *Driver) CreateSampler(desc *rhi.SamplerDesc) (rhi.NativeSampler, error) {
	if desc.MaxAnisotropy > d.limits.MaxSamplerAnisotropy {
		return nil, &rhi.CreationError{Subject: "sampler", Message: "anisotropy above device limit"}
	}
	s := &Sampler{desc: *desc}
	s.init(d, "sampler", desc.Label)
	d.remember(&s.object)
	return s, nil
}

func (d *Driver) CreateShaderModule(desc *rhi.ShaderModuleDesc) (rhi.NativeShaderModule, error) {
	code, err := loadShaderCode(desc)
	if err != nil {
		return nil, &rhi.CreationError{Subject: "shader module", Message: err.Error(), Err: err}
	}
	m := &ShaderModule{stage: desc.Stage, code: code}
	m.init(d, "shader module", desc.Label)
	d.remember(&m.object)
	return m, nil
}

func (d *Driver) CreatePipelineLayout(desc *rhi.PipelineLayoutDesc) (rhi.NativePipelineLayout, error) {
	l := &PipelineLayout{desc: *desc}
	l.init(d, "pipeline layout", desc.Label)
	d.remember(&l.object)
	return l, nil
}

func (d *Driver) CreateGraphicsPipeline(desc *rhi.GraphicsPipelineDesc) (rhi.NativePipeline, error) {
	layout := rhi.MustBackend[*PipelineLayout](desc.Layout.Native())
	vs := rhi.MustBackend[*ShaderModule](desc.Vertex.Module.Native())
	if vs.Destroyed() || layout.Destroyed() {
		return nil, &rhi.CreationError{Subject: "graphics pipeline", Message: "uses a destroyed object"}
	}
	if vs.stage != rhi.ShaderStageVertex {
		return nil, &rhi.CreationError{Subject: "graphics pipeline", Message: "vertex stage module is a " + vs.stage.String() + " shader"}
	}
	if desc.Fragment.Module != nil {
		fs := rhi.MustBackend[*ShaderModule](desc.Fragment.Module.Native())
		if fs.stage != rhi.ShaderStageFragment {
			return nil, &rhi.CreationError{Subject: "graphics pipeline", Message: "fragment stage module is a " + fs.stage.String() + " shader"}
		}
	}
	for _, f := range desc.ColorFormats {
		if f.IsDepth() {
			return nil, &rhi.CreationError{Subject: "graphics pipeline", Message: "depth format used as color attachment"}
		}
	}
	if desc.DepthFormat != rhi.FormatUndefined && !desc.DepthFormat.IsDepth() {
		return nil, &rhi.CreationError{Subject: "graphics pipeline", Message: "depth attachment format is not a depth format"}
	}
	p := &Pipeline{point: rhi.BindPointGraphics}
	p.init(d, "pipeline", desc.Label)
	d.remember(&p.object)
	return p, nil
}

func (d *Driver) CreateComputePipeline(desc *rhi.ComputePipelineDesc) (rhi.NativePipeline, error) {
	cs := rhi.MustBackend[*ShaderModule](desc.Compute.Module.Native())
	if cs.stage != rhi.ShaderStageCompute {
		return nil, &rhi.CreationError{Subject: "compute pipeline", Message: "compute stage module is a " + cs.stage.String() + " shader"}
	}
	p := &Pipeline{point: rhi.BindPointCompute}
	p.init(d, "pipeline", desc.Label)
	d.remember(&p.object)
	return p, nil
}

func (d *Driver) CreateSurface(desc *rhi.SurfaceDesc) (rhi.NativeSurface, error) {
	format, err := rhi.ChooseFormat(d.formats)
	if err != nil {
		return nil, err
	}
	s := &Surface{
		window:      desc.Window,
		vsync:       desc.VSync,
		caps:        d.caps,
		format:      format,
		presentMode: rhi.ChoosePresentMode(d.modes, desc.VSync),
	}
	s.init(d, "surface", desc.Label)
	if err := s.build(desc.Requested); err != nil {
		return nil, err
	}
	d.remember(&s.object)
	return s, nil
}

func (d *Driver) CreateCommandRecorder(label string) (rhi.CommandRecorder, error) {
	r := &Recorder{}
	r.init(d, "command recorder", label)
	d.remember(&r.object)
	return r, nil
}

func (d *Driver) CreateBinarySemaphore(label string) (rhi.NativeSemaphore, error) {
	s := &Semaphore{}
	s.init(d, "semaphore", label)
	d.remember(&s.object)
	return s, nil
}

func (d *Driver) Submit(info *rhi.SubmitInfo) error {
	d.mu.Lock()
	lost, fail := d.lost, d.failSubmit
	d.failSubmit = nil
	d.mu.Unlock()
	if lost {
		return core.ErrDeviceLost
	}
	if fail != nil {
		return fail
	}

	rec := rhi.MustBackend[*Recorder](info.Recorder)
	if rec.recording {
		return fmt.Errorf("submit of recorder %q that is still recording", rec.label)
	}
	if info.TimelineValue <= d.timeline.Submitted() {
		return fmt.Errorf("timeline value %d does not advance past %d", info.TimelineValue, d.timeline.Submitted())
	}
	for _, o := range rec.refs {
		if o.Destroyed() {
			d.violation("submit of %q references destroyed %s", rec.label, o)
		}
	}
	if info.Wait != nil {
		if err := rhi.MustBackend[*Semaphore](info.Wait).consume(); err != nil {
			return err
		}
	}
	if info.Signal != nil {
		if err := rhi.MustBackend[*Semaphore](info.Signal).signal(); err != nil {
			return err
		}
	}

	rec.lastUse.Store(info.TimelineValue)
	for _, o := range rec.refs {
		o.lastUse.Store(info.TimelineValue)
	}
	for _, o := range d.heap.resident() {
		o.lastUse.Store(info.TimelineValue)
	}

	d.mu.Lock()
	d.submissions = append(d.submissions, Submission{
		Recorder:      rec.label,
		Commands:      rec.Commands(),
		TimelineValue: info.TimelineValue,
	})
	d.mu.Unlock()

	d.timeline.submit(info.TimelineValue)
	return nil
}

func (d *Driver) WaitIdle() error {
	if d.isLost() {
		return core.ErrDeviceLost
	}
	d.timeline.completeAll()
	return nil
}

// Destroy reports leaked objects as violations.
func (d *Driver) Destroy() {
	for kind, n := range d.LiveObjects() {
		d.violation("%d %s objects leaked", n, kind)
	}
	d.heap.destroyed.Store(true)
	d.timeline.destroyed.Store(true)
}
