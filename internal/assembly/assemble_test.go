package assembly

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonathan/content-pipeline/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUploader struct {
	objects []string
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, localPath, objectName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.objects = append(f.objects, objectName)
	return "https://minio.local/bucket/" + objectName, nil
}

func testProject(t *testing.T) *types.VideoProject {
	t.Helper()
	dir := t.TempDir()
	frame := func(i int, status types.FrameStatus) types.GeneratedFrame {
		path := filepath.Join(dir, "shot"+string(rune('0'+i))+".png")
		require.NoError(t, os.WriteFile(path, []byte("png"), 0644))
		return types.GeneratedFrame{ShotIndex: i, JobID: "job", Status: status, LocalPath: path}
	}
	return &types.VideoProject{
		ID:     "proj-1",
		Title:  "Cold brew",
		Script: "Cold brew is smoother.",
		Shots: []types.PromptChainItem{
			{Index: 0, ImagePrompt: "jar of coffee", DurationSeconds: 3, Narration: "Cold brew", Transition: "cut"},
			{Index: 1, ImagePrompt: "ice cubes", DurationSeconds: 0},
			{Index: 2, ImagePrompt: "smiling barista", DurationSeconds: 4},
		},
		Frames: []types.GeneratedFrame{
			frame(0, types.FrameCompleted),
			frame(1, types.FrameCompleted),
			frame(2, types.FrameFailed),
		},
	}
}

func manifestAssembler(t *testing.T, uploader Uploader) *Assembler {
	return New(Options{OutputDir: t.TempDir(), FFmpegPath: "definitely-not-ffmpeg-binary"}, uploader, zap.NewNop())
}

func TestAssemble_ManifestWhenFFmpegMissing(t *testing.T) {
	a := manifestAssembler(t, nil)
	project := testProject(t)

	result, err := a.Assemble(context.Background(), project, &types.Pipeline{OutputFormat: "mp4", Resolution: "720x1280"})
	require.NoError(t, err)
	assert.Equal(t, "manifest", result.Format)
	assert.Equal(t, 2, result.Frames)
	assert.Equal(t, 8.0, result.Duration)
	assert.Equal(t, "manifest.json", filepath.Base(result.Path))
	assert.Empty(t, result.URL)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	var m manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "proj-1", m.ProjectID)
	assert.Equal(t, "720x1280", m.Resolution)
	require.Len(t, m.Shots, 2)
	assert.Equal(t, "Cold brew", m.Shots[0].Narration)
	assert.Equal(t, defaultFrameSecs, m.Shots[1].Duration)
}

func TestAssemble_ExplicitManifestFormat(t *testing.T) {
	a := New(Options{OutputDir: t.TempDir()}, nil, zap.NewNop())

	result, err := a.Assemble(context.Background(), testProject(t), &types.Pipeline{OutputFormat: "manifest"})
	require.NoError(t, err)
	assert.Equal(t, "manifest", result.Format)
}

func TestAssemble_Uploads(t *testing.T) {
	uploader := &fakeUploader{}
	a := manifestAssembler(t, uploader)

	result, err := a.Assemble(context.Background(), testProject(t), &types.Pipeline{})
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/proj-1/manifest.json"}, uploader.objects)
	assert.Equal(t, "https://minio.local/bucket/projects/proj-1/manifest.json", result.URL)
}

func TestAssemble_UploadFailureKeepsLocalArtifact(t *testing.T) {
	a := manifestAssembler(t, &fakeUploader{err: errors.New("bucket missing")})

	result, err := a.Assemble(context.Background(), testProject(t), &types.Pipeline{})
	require.NoError(t, err)
	assert.Empty(t, result.URL)
	assert.FileExists(t, result.Path)
}

func TestAssemble_NoFrames(t *testing.T) {
	a := manifestAssembler(t, nil)
	project := testProject(t)
	project.Frames = []types.GeneratedFrame{{ShotIndex: 0, Status: types.FrameFailed}}

	_, err := a.Assemble(context.Background(), project, &types.Pipeline{})
	assert.Error(t, err)
}

func TestAssemble_BadResolution(t *testing.T) {
	a := manifestAssembler(t, nil)

	_, err := a.Assemble(context.Background(), testProject(t), &types.Pipeline{Resolution: "wide"})
	assert.Error(t, err)
}

func TestConcatList(t *testing.T) {
	list := concatList([]manifestShot{
		{Image: "/tmp/a.png", Duration: 3},
		{Image: "/tmp/it's.png", Duration: 2.5},
	})
	lines := strings.Split(strings.TrimSpace(list), "\n")
	assert.Equal(t, []string{
		"file '/tmp/a.png'",
		"duration 3.000",
		`file '/tmp/it'\''s.png'`,
		"duration 2.500",
		`file '/tmp/it'\''s.png'`,
	}, lines)
}

func TestRenderError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &RenderError{Message: "ffmpeg exited with error", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ffmpeg exited with error")
}
