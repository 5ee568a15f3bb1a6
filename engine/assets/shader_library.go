package assets

import (
	"strings"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// ShaderLibrary keeps one shader module per SPIR-V asset and recreates it
// when the file changes. Modules are created on the render goroutine in Get
// and Poll; replaced modules are released and destroyed once the frames that
// used them complete.
type ShaderLibrary struct {
	device  *rhi.Device
	assets  *AssetManager
	changes <-chan AssetEvent

	mu      sync.Mutex
	modules map[string]*rhi.ShaderModule
}

func NewShaderLibrary(device *rhi.Device, am *AssetManager) *ShaderLibrary {
	return &ShaderLibrary{
		device:  device,
		assets:  am,
		changes: am.Subscribe(),
		modules: make(map[string]*rhi.ShaderModule),
	}
}

// StageOf infers the stage from names like "triangle.vert.spv".
func StageOf(name string) rhi.ShaderStage {
	base := strings.TrimSuffix(name, ".spv")
	switch {
	case strings.HasSuffix(base, ".vert"):
		return rhi.ShaderStageVertex
	case strings.HasSuffix(base, ".frag"):
		return rhi.ShaderStageFragment
	case strings.HasSuffix(base, ".comp"):
		return rhi.ShaderStageCompute
	}
	return 0
}

// Get returns the module for name, creating it on first use. The library
// keeps its own reference; callers that hold on to the module past the next
// Poll must Retain it.
func (sl *ShaderLibrary) Get(name string) (*rhi.ShaderModule, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if m, ok := sl.modules[name]; ok {
		return m, nil
	}
	m, err := sl.create(name)
	if err != nil {
		return nil, err
	}
	sl.modules[name] = m
	return m, nil
}

func (sl *ShaderLibrary) create(name string) (*rhi.ShaderModule, error) {
	code, err := sl.assets.LoadShader(name)
	if err != nil {
		return nil, err
	}
	return sl.device.CreateShaderModule(rhi.ShaderModuleDesc{
		Label: name,
		Stage: StageOf(name),
		Code:  code,
	})
}

// Poll reloads every loaded module whose file changed since the last call
// and returns their names. A module that fails to reload keeps its previous
// version.
func (sl *ShaderLibrary) Poll() []string {
	var reloaded []string
	for {
		select {
		case ev, ok := <-sl.changes:
			if !ok {
				return reloaded
			}
			if ev.Type != AssetTypeShader || ev.Removed {
				continue
			}
			if sl.reload(ev.Name) {
				reloaded = append(reloaded, ev.Name)
			}
		default:
			return reloaded
		}
	}
}

func (sl *ShaderLibrary) reload(name string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	old, loaded := sl.modules[name]
	if !loaded {
		return false
	}
	m, err := sl.create(name)
	if err != nil {
		core.LogWarn("shader %s not reloaded: %s", name, err)
		return false
	}
	sl.modules[name] = m
	old.Release()
	core.LogInfo("shader %s reloaded", name)
	return true
}

// Destroy releases the library's references.
func (sl *ShaderLibrary) Destroy() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for name, m := range sl.modules {
		m.Release()
		delete(sl.modules, name)
	}
}
