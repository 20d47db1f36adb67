// Package assembly turns generated frames into the finished artifact: a video
// rendered with ffmpeg when it is installed, or a JSON manifest otherwise.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/content-pipeline/internal/types"
	"go.uber.org/zap"
)

const (
	// RenderTimeout is the maximum time to wait for ffmpeg
	RenderTimeout    = 5 * time.Minute
	defaultFrameRate = 30
	manifestFilename = "manifest.json"
	concatListName   = "frames.txt"
	defaultFrameSecs = 5.0
	formatManifest   = "manifest"
	defaultFormat    = "mp4"
)

// Uploader publishes a local file and returns a URL for it.
type Uploader interface {
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// Result describes the assembled artifact.
type Result struct {
	Path     string  `json:"path"`
	URL      string  `json:"url,omitempty"`
	Format   string  `json:"format"`
	Frames   int     `json:"frames"`
	Duration float64 `json:"duration_seconds"`
}

// RenderError is returned when ffmpeg fails.
type RenderError struct {
	Message   string
	LogOutput string
	Cause     error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("render failed: %s", e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// Options configure an Assembler.
type Options struct {
	OutputDir  string
	FFmpegPath string
}

// Assembler builds the final artifact for a project.
type Assembler struct {
	opts     Options
	uploader Uploader
	logger   *zap.Logger
}

// New creates an Assembler. uploader may be nil.
func New(opts Options, uploader Uploader, logger *zap.Logger) *Assembler {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{opts: opts, uploader: uploader, logger: logger}
}

type manifest struct {
	ProjectID     string         `json:"project_id"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	Hashtags      []string       `json:"hashtags,omitempty"`
	Script        string         `json:"script,omitempty"`
	Resolution    string         `json:"resolution"`
	TotalDuration float64        `json:"total_duration_seconds"`
	Shots         []manifestShot `json:"shots"`
	CreatedAt     time.Time      `json:"created_at"`
}

type manifestShot struct {
	Index          int     `json:"index"`
	Image          string  `json:"image"`
	Duration       float64 `json:"duration_seconds"`
	Narration      string  `json:"narration,omitempty"`
	CameraMovement string  `json:"camera_movement,omitempty"`
	Transition     string  `json:"transition,omitempty"`
}

// Assemble renders the completed frames of project in shot order. It returns an
// error when there are no usable frames.
func (a *Assembler) Assemble(ctx context.Context, project *types.VideoProject, pipeline *types.Pipeline) (*Result, error) {
	shots := a.collectShots(project)
	if len(shots) == 0 {
		return nil, fmt.Errorf("no completed frames to assemble")
	}

	width, height, err := pipeline.Dimensions()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(a.opts.OutputDir, project.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	format := strings.ToLower(pipeline.OutputFormat)
	if format == "" {
		format = defaultFormat
	}
	result := &Result{Frames: len(shots)}
	for _, shot := range shots {
		result.Duration += shot.Duration
	}

	ffmpeg := a.ffmpegBinary()
	if format != formatManifest && ffmpeg != "" {
		result.Path, err = a.render(ctx, ffmpeg, dir, format, width, height, shots)
		if err != nil {
			return nil, err
		}
		result.Format = format
	} else {
		if format != formatManifest {
			a.logger.Info("ffmpeg not available, writing manifest", zap.String("project_id", project.ID))
		}
		result.Path, err = writeManifest(dir, project, fmt.Sprintf("%dx%d", width, height), shots, result.Duration)
		if err != nil {
			return nil, err
		}
		result.Format = formatManifest
	}

	if a.uploader != nil {
		objectName := fmt.Sprintf("projects/%s/%s", project.ID, filepath.Base(result.Path))
		url, err := a.uploader.Upload(ctx, result.Path, objectName)
		if err != nil {
			a.logger.Warn("artifact upload failed", zap.String("path", result.Path), zap.Error(err))
		} else {
			result.URL = url
		}
	}
	return result, nil
}

func (a *Assembler) collectShots(project *types.VideoProject) []manifestShot {
	byIndex := make(map[int]types.PromptChainItem, len(project.Shots))
	for _, shot := range project.Shots {
		byIndex[shot.Index] = shot
	}

	var shots []manifestShot
	for _, frame := range project.Frames {
		if frame.Status != types.FrameCompleted || frame.LocalPath == "" {
			continue
		}
		item := byIndex[frame.ShotIndex]
		duration := item.DurationSeconds
		if duration <= 0 {
			duration = defaultFrameSecs
		}
		shots = append(shots, manifestShot{
			Index:          frame.ShotIndex,
			Image:          frame.LocalPath,
			Duration:       duration,
			Narration:      item.Narration,
			CameraMovement: item.CameraMovement,
			Transition:     item.Transition,
		})
	}
	return shots
}

// ffmpegBinary resolves the configured ffmpeg, or "" when it is not installed.
func (a *Assembler) ffmpegBinary() string {
	name := a.opts.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

func (a *Assembler) render(ctx context.Context, ffmpeg, dir, format string, width, height int, shots []manifestShot) (string, error) {
	listPath := filepath.Join(dir, concatListName)
	if err := os.WriteFile(listPath, []byte(concatList(shots)), 0644); err != nil {
		return "", fmt.Errorf("failed to write frame list: %w", err)
	}

	outPath := filepath.Join(dir, "final."+format)
	ctx, cancel := context.WithTimeout(ctx, RenderTimeout)
	defer cancel()

	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,format=yuv420p", width, height, width, height)
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-vf", filter, "-r", fmt.Sprint(defaultFrameRate),
		outPath)

	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return "", &RenderError{Message: "ffmpeg exited with error", LogOutput: output.String(), Cause: err}
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", &RenderError{Message: "output file was not created", LogOutput: output.String(), Cause: err}
	}
	a.logger.Info("rendered video", zap.String("path", outPath), zap.Int("frames", len(shots)))
	return outPath, nil
}

// concatList builds an ffmpeg concat demuxer script. The last file is repeated
// so its duration is honored.
func concatList(shots []manifestShot) string {
	var sb strings.Builder
	for _, shot := range shots {
		abs, err := filepath.Abs(shot.Image)
		if err != nil {
			abs = shot.Image
		}
		sb.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`)))
		sb.WriteString(fmt.Sprintf("duration %.3f\n", shot.Duration))
	}
	if len(shots) > 0 {
		last, err := filepath.Abs(shots[len(shots)-1].Image)
		if err != nil {
			last = shots[len(shots)-1].Image
		}
		sb.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(last, "'", `'\''`)))
	}
	return sb.String()
}

func writeManifest(dir string, project *types.VideoProject, resolution string, shots []manifestShot, total float64) (string, error) {
	m := manifest{
		ProjectID:     project.ID,
		Title:         project.Title,
		Description:   project.Description,
		Hashtags:      project.Hashtags,
		Script:        project.Script,
		Resolution:    resolution,
		TotalDuration: total,
		Shots:         shots,
		CreatedAt:     time.Now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(dir, manifestFilename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}
