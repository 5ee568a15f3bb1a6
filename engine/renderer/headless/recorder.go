package headless

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Recorder keeps the recorded commands as readable strings and remembers
// every object they reference, so submission can check for use-after-destroy
// and destruction can check for in-flight use.
type Recorder struct {
	object

	recording bool
	rendering bool
	markers   int
	commands  []string
	refs      []*object
}

func (r *Recorder) Commands() []string {
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

func (r *Recorder) Recording() bool { return r.recording }

func (r *Recorder) Reset() error {
	if r.recording {
		return fmt.Errorf("recorder %q reset while recording", r.label)
	}
	r.driver.checkIdle(&r.object, "reset")
	r.commands = r.commands[:0]
	r.refs = r.refs[:0]
	return nil
}

func (r *Recorder) Begin() error {
	if r.recording {
		return fmt.Errorf("recorder %q already recording", r.label)
	}
	r.recording = true
	return nil
}

func (r *Recorder) End() error {
	if !r.recording {
		return core.ErrNotRecording
	}
	if r.rendering {
		return fmt.Errorf("recorder %q ended inside a rendering scope", r.label)
	}
	if r.markers != 0 {
		return fmt.Errorf("recorder %q ended with %d open markers", r.label, r.markers)
	}
	r.recording = false
	return nil
}

func (r *Recorder) record(cmd string, refs ...interface{}) {
	if !r.recording {
		r.driver.violation("%s recorded into %q outside Begin/End", cmd, r.label)
		return
	}
	r.commands = append(r.commands, cmd)
	for _, ref := range refs {
		if t, ok := ref.(tracked); ok {
			r.refs = append(r.refs, t.base())
		}
	}
}

func labelOf(o interface{}) string {
	if t, ok := o.(tracked); ok {
		return t.base().label
	}
	return "?"
}

func (r *Recorder) Barrier(texture rhi.NativeTexture, from, to rhi.ImageLayout) {
	r.record(fmt.Sprintf("barrier %s %s->%s", labelOf(texture), from, to), texture)
}

func (r *Recorder) BeginMarker(label string, color rhi.LabelColor) {
	r.markers++
	r.record("marker_begin " + label)
}

func (r *Recorder) EndMarker() {
	if r.markers == 0 {
		r.driver.violation("marker end without begin in %q", r.label)
		return
	}
	r.markers--
	r.record("marker_end")
}

func (r *Recorder) BeginRendering(colors []rhi.ColorAttachment, depth *rhi.DepthAttachment) error {
	if r.rendering {
		return fmt.Errorf("recorder %q is already rendering", r.label)
	}
	names := make([]string, 0, len(colors)+1)
	refs := make([]interface{}, 0, len(colors)+1)
	for i, c := range colors {
		if c.Texture == nil {
			return fmt.Errorf("color attachment %d has no texture", i)
		}
		names = append(names, labelOf(c.Texture))
		refs = append(refs, c.Texture)
	}
	if depth != nil {
		if depth.Texture == nil || !depth.Texture.Format().IsDepth() {
			return fmt.Errorf("depth attachment needs a depth texture")
		}
		names = append(names, labelOf(depth.Texture))
		refs = append(refs, depth.Texture)
	}
	r.rendering = true
	r.record("begin_rendering "+strings.Join(names, ","), refs...)
	return nil
}

func (r *Recorder) EndRendering() {
	if !r.rendering {
		r.driver.violation("end rendering without begin in %q", r.label)
		return
	}
	r.rendering = false
	r.record("end_rendering")
}

func (r *Recorder) SetViewport(v rhi.Viewport) {
	r.record(fmt.Sprintf("viewport %gx%g", v.Width, v.Height))
}

func (r *Recorder) SetScissor(rect rhi.Rect2D) {
	r.record("scissor " + rect.Extent.String())
}

func (r *Recorder) BindPipeline(p rhi.NativePipeline) {
	r.record("bind_pipeline "+labelOf(p), p)
}

func (r *Recorder) BindDescriptorHeap(layout rhi.NativePipelineLayout, point rhi.BindPoint) {
	r.record("bind_descriptor_heap "+labelOf(layout), layout)
}

func (r *Recorder) PushConstants(layout rhi.NativePipelineLayout, stages rhi.ShaderStage, offset uint32, data []byte) {
	r.record(fmt.Sprintf("push_constants %s %d+%d", stages, offset, len(data)), layout)
}

func (r *Recorder) BindVertexBuffer(buffer rhi.NativeBuffer, offset uint64) {
	r.record("bind_vertex_buffer "+labelOf(buffer), buffer)
}

func (r *Recorder) BindIndexBuffer(buffer rhi.NativeBuffer, offset uint64, index32 bool) {
	r.record("bind_index_buffer "+labelOf(buffer), buffer)
}

func (r *Recorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if r.recording && !r.rendering {
		r.driver.violation("draw outside a rendering scope in %q", r.label)
	}
	r.record(fmt.Sprintf("draw %d %d", vertexCount, instanceCount))
}

func (r *Recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if r.recording && !r.rendering {
		r.driver.violation("draw outside a rendering scope in %q", r.label)
	}
	r.record(fmt.Sprintf("draw_indexed %d %d", indexCount, instanceCount))
}

func (r *Recorder) Dispatch(x, y, z uint32) {
	if r.rendering {
		r.driver.violation("dispatch inside a rendering scope in %q", r.label)
	}
	r.record(fmt.Sprintf("dispatch %d %d %d", x, y, z))
}

func (r *Recorder) CopyBuffer(src, dst rhi.NativeBuffer, srcOffset, dstOffset, size uint64) {
	r.record(fmt.Sprintf("copy_buffer %s->%s %d", labelOf(src), labelOf(dst), size), src, dst)
}

func (r *Recorder) CopyBufferToTexture(src rhi.NativeBuffer, dst rhi.NativeTexture, srcOffset uint64) {
	r.record(fmt.Sprintf("copy_buffer_to_texture %s->%s", labelOf(src), labelOf(dst)), src, dst)
}
