package vulkan

import (
	"strings"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// debugNames maps raw handles to the labels given at creation, and command
// buffers to their open marker stack. The debug report callback is process
// wide, so this is too.
type debugNames struct {
	mu      sync.Mutex
	names   map[uint64]string
	markers map[uint64][]string
}

var objectNames = &debugNames{
	names:   make(map[uint64]string),
	markers: make(map[uint64][]string),
}

func (n *debugNames) set(object uint64, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name == "" {
		delete(n.names, object)
		return
	}
	n.names[object] = name
}

func (n *debugNames) push(object uint64, label string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.markers[object] = append(n.markers[object], label)
}

func (n *debugNames) pop(object uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	stack := n.markers[object]
	switch len(stack) {
	case 0:
	case 1:
		delete(n.markers, object)
	default:
		n.markers[object] = stack[:len(stack)-1]
	}
}

func (n *debugNames) reset(object uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.markers, object)
}

// describe renders `"name" [pass/subpass]` for a reported object.
func (n *debugNames) describe(object uint64) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var b strings.Builder
	if name, ok := n.names[object]; ok {
		b.WriteString("\"" + name + "\"")
	}
	if stack := n.markers[object]; len(stack) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("[" + strings.Join(stack, "/") + "]")
	}
	return b.String()
}

func handleKey(handle unsafe.Pointer) uint64 {
	return uint64(uintptr(handle))
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	if desc := objectNames.describe(object); desc != "" {
		pMessage = desc + ": " + pMessage
	}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// setObjectName labels a handle for validation messages. Only kept while the
// debug report callback is installed.
func (vc *VulkanContext) setObjectName(objectType vk.ObjectType, handle unsafe.Pointer, name string) {
	if !vc.debugReport || handle == nil {
		return
	}
	objectNames.set(handleKey(handle), name)
}

func (vc *VulkanContext) forgetObject(handle unsafe.Pointer) {
	if !vc.debugReport || handle == nil {
		return
	}
	objectNames.set(handleKey(handle), "")
	objectNames.reset(handleKey(handle))
}

// beginLabel opens a marker on cmd; messages about cmd carry the marker path
// until the matching endLabel.
func (vc *VulkanContext) beginLabel(cmd vk.CommandBuffer, label string, _ rhi.LabelColor) {
	if !vc.debugReport {
		return
	}
	objectNames.push(handleKey(unsafe.Pointer(cmd)), label)
}

func (vc *VulkanContext) endLabel(cmd vk.CommandBuffer) {
	if !vc.debugReport {
		return
	}
	objectNames.pop(handleKey(unsafe.Pointer(cmd)))
}

// resetLabels drops markers left open by an abandoned recording.
func (vc *VulkanContext) resetLabels(cmd vk.CommandBuffer) {
	if !vc.debugReport {
		return
	}
	objectNames.reset(handleKey(unsafe.Pointer(cmd)))
}
