package headless

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func submitEmpty(t *testing.T, d *Driver, value uint64) *Recorder {
	t.Helper()
	rec, err := d.CreateCommandRecorder("rec")
	require.NoError(t, err)
	require.NoError(t, rec.Begin())
	require.NoError(t, rec.End())
	require.NoError(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, TimelineValue: value}))
	return rec.(*Recorder)
}

func TestTimelineManualCompletion(t *testing.T) {
	d := New(WithManualCompletion())
	submitEmpty(t, d, 1)
	submitEmpty(t, d, 2)

	completed, err := d.Timeline().Completed()
	require.NoError(t, err)
	assert.Zero(t, completed)

	done := make(chan error, 1)
	go func() { done <- d.Timeline().Wait(context.Background(), 2) }()

	d.Complete(1)
	select {
	case <-done:
		t.Fatal("wait returned before value 2 completed")
	case <-time.After(20 * time.Millisecond):
	}

	d.Complete(5) // capped at what was submitted
	require.NoError(t, <-done)
	completed, err = d.Timeline().Completed()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), completed)
}

func TestTimelineWaitHonoursContext(t *testing.T) {
	d := New(WithManualCompletion())
	submitEmpty(t, d, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Timeline().Wait(ctx, 1), context.DeadlineExceeded)
}

func TestSubmitMustAdvanceTimeline(t *testing.T) {
	d := New()
	submitEmpty(t, d, 3)
	rec, err := d.CreateCommandRecorder("late")
	require.NoError(t, err)
	assert.Error(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, TimelineValue: 3}))
}

func TestBinarySemaphoreRules(t *testing.T) {
	d := New()
	sem, err := d.CreateBinarySemaphore("s")
	require.NoError(t, err)
	rec, err := d.CreateCommandRecorder("rec")
	require.NoError(t, err)

	err = d.Submit(&rhi.SubmitInfo{Recorder: rec, Wait: sem, TimelineValue: 1})
	assert.Error(t, err, "waiting on an unsignaled semaphore")

	require.NoError(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, Signal: sem, TimelineValue: 1}))
	assert.True(t, sem.(*Semaphore).Signaled())
	assert.Error(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, Signal: sem, TimelineValue: 2}), "double signal")
	require.NoError(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, Wait: sem, TimelineValue: 2}))
	assert.False(t, sem.(*Semaphore).Signaled())
}

func TestDestroyWhileInFlightIsReported(t *testing.T) {
	d := New(WithManualCompletion())
	buf, err := d.CreateBuffer(&rhi.BufferDesc{Label: "vb", Size: 64})
	require.NoError(t, err)

	rec, err := d.CreateCommandRecorder("rec")
	require.NoError(t, err)
	require.NoError(t, rec.Begin())
	rec.BindVertexBuffer(buf, 0)
	require.NoError(t, rec.End())
	require.NoError(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, TimelineValue: 1}))

	buf.Destroy()
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], `buffer "vb" destroyed while in use`)

	assert.Panics(t, func() { buf.Destroy() })

	// resubmitting the same commands now references a destroyed buffer
	require.NoError(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, TimelineValue: 2}))
	assert.Len(t, d.Violations(), 2)
}

func TestRecorderRules(t *testing.T) {
	d := New()
	r, err := d.CreateCommandRecorder("rec")
	require.NoError(t, err)
	rec := r.(*Recorder)

	assert.ErrorIs(t, rec.End(), core.ErrNotRecording)
	rec.Draw(3, 1, 0, 0)
	assert.Len(t, d.Violations(), 1, "command outside Begin/End")

	require.NoError(t, rec.Begin())
	assert.Error(t, rec.Begin())
	assert.Error(t, rec.Reset(), "reset while recording")
	rec.BeginMarker("pass", rhi.LabelColorRenderPass)
	assert.Error(t, rec.End(), "open marker")
	rec.EndMarker()

	depth, err := d.CreateTexture(&rhi.TextureDesc{Label: "depth", Width: 8, Height: 8, Format: rhi.FormatD32Float})
	require.NoError(t, err)
	color, err := d.CreateTexture(&rhi.TextureDesc{Label: "color", Width: 8, Height: 8, Format: rhi.FormatRGBA8Unorm})
	require.NoError(t, err)
	assert.Error(t, rec.BeginRendering(nil, &rhi.DepthAttachment{Texture: color}))
	require.NoError(t, rec.BeginRendering([]rhi.ColorAttachment{{Texture: color}}, &rhi.DepthAttachment{Texture: depth, Clear: true, ClearDepth: 1}))
	rec.Dispatch(1, 1, 1)
	assert.Len(t, d.Violations(), 2, "dispatch inside rendering")
	rec.EndRendering()
	require.NoError(t, rec.End())

	assert.Equal(t, []string{
		"marker_begin pass",
		"marker_end",
		"begin_rendering color,depth",
		"dispatch 1 1 1",
		"end_rendering",
	}, rec.Commands())
}

func TestShaderModuleFromPath(t *testing.T) {
	d := New()
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	path := filepath.Join(t.TempDir(), "tri.vert.spv")
	require.NoError(t, os.WriteFile(path, code, 0o644))

	m, err := d.CreateShaderModule(&rhi.ShaderModuleDesc{Stage: rhi.ShaderStageVertex, Path: path})
	require.NoError(t, err)
	assert.Equal(t, rhi.ShaderStageVertex, m.Stage())

	_, err = d.CreateShaderModule(&rhi.ShaderModuleDesc{Stage: rhi.ShaderStageVertex, Code: make([]byte, 8)})
	var cerr *rhi.CreationError
	require.ErrorAs(t, err, &cerr)
}

func TestSurfaceFollowsSharedPolicy(t *testing.T) {
	d := New(
		WithSurfaceCapabilities(rhi.SurfaceCapabilities{
			CurrentExtent:  rhi.Extent2D{Width: rhi.ExtentUndefined, Height: rhi.ExtentUndefined},
			MinImageExtent: rhi.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: rhi.Extent2D{Width: 512, Height: 512},
			MinImageCount:  3,
		}),
		WithSurfaceFormats(rhi.SurfaceFormat{Format: rhi.FormatBGRA8Unorm, ColorSpace: rhi.ColorSpaceSrgbNonlinear}),
		WithPresentModes(rhi.PresentModeFifo),
	)
	s, err := d.CreateSurface(&rhi.SurfaceDesc{Requested: rhi.Extent2D{Width: 640, Height: 480}})
	require.NoError(t, err)

	assert.Equal(t, rhi.Extent2D{Width: 512, Height: 480}, s.Extent())
	assert.Equal(t, 4, s.ImageCount())
	assert.Equal(t, rhi.FormatBGRA8Unorm, s.Format().Format)
	assert.Equal(t, rhi.PresentModeFifo, s.PresentMode())

	s.Destroy()
	assert.Empty(t, d.LiveObjects())
}

func TestDeviceLost(t *testing.T) {
	d := New()
	d.SetDeviceLost()

	_, err := d.Timeline().Completed()
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.ErrorIs(t, d.WaitIdle(), core.ErrDeviceLost)
	assert.ErrorIs(t, d.Timeline().Wait(context.Background(), 1), core.ErrDeviceLost)

	rec, err := d.CreateCommandRecorder("rec")
	require.NoError(t, err)
	assert.ErrorIs(t, d.Submit(&rhi.SubmitInfo{Recorder: rec, TimelineValue: 1}), core.ErrDeviceLost)
}

func TestLeaksAreReportedOnDestroy(t *testing.T) {
	d := New()
	_, err := d.CreateSampler(&rhi.SamplerDesc{Label: "leaky"})
	require.NoError(t, err)
	d.Destroy()
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "1 sampler objects leaked")
}
