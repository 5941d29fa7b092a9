package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"

	"github.com/slipway/slipway/internal/logging"
	"github.com/slipway/slipway/internal/metrics"
)

// BuildImage tars the context directory (honouring .dockerignore) and asks
// the engine to build it under opts.Tag. It returns the built image ID.
// Build semantics are entirely the engine's; slipway only streams the output.
func (s *sdkClient) BuildImage(ctx context.Context, opts BuildOptions) (string, error) {
	logging.Get().Info().Str("context", opts.ContextDir).Str("tag", opts.Tag).Msg("building image")
	start := time.Now()

	excludes, err := readDockerignore(opts.ContextDir)
	if err != nil {
		return "", err
	}
	// The engine needs the Dockerfile even when the ignore file matches it.
	excludes = append(excludes, "!"+opts.Dockerfile, "!.dockerignore")

	buildCtx, err := archive.TarWithOptions(opts.ContextDir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return "", fmt.Errorf("tar build context %s: %w", opts.ContextDir, err)
	}
	defer buildCtx.Close()

	args := make(map[string]*string, len(opts.BuildArgs))
	for k, v := range opts.BuildArgs {
		v := v
		args[k] = &v
	}

	resp, err := s.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		BuildArgs:   args,
		Remove:      true,
		PullParent:  opts.PullBase,
		NetworkMode: "default",
	})
	if err != nil {
		metrics.IncBuildFailure()
		return "", fmt.Errorf("image build %s: %w", opts.Tag, err)
	}
	defer resp.Body.Close()

	imageID, err := drainBuildStream(resp.Body)
	if err != nil {
		metrics.IncBuildFailure()
		return "", fmt.Errorf("image build %s: %w", opts.Tag, err)
	}

	if imageID == "" {
		// Older engines omit the aux message; fall back to inspecting the tag.
		imageID, err = s.ImageID(ctx, opts.Tag)
		if err != nil {
			metrics.IncBuildFailure()
			return "", err
		}
	}

	seconds := time.Since(start).Seconds()
	metrics.IncBuildSuccess()
	metrics.ObserveBuildDuration(seconds)
	logging.Get().Info().Str("tag", opts.Tag).Str("id", imageID).Float64("duration_seconds", seconds).Msg("built image")
	return imageID, nil
}

// buildMessage is one JSON record of the engine's build output stream.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux struct {
		ID string `json:"ID"`
	} `json:"aux"`
}

// drainBuildStream consumes the build output, logging progress lines at
// debug level, and returns the built image ID when the engine reports it.
func drainBuildStream(body io.Reader) (string, error) {
	var imageID string
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg buildMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return "", fmt.Errorf("build failed: %s", detail)
		}
		if msg.Aux.ID != "" {
			imageID = msg.Aux.ID
		}
		if out := strings.TrimSpace(msg.Stream); out != "" {
			logging.Get().Debug().Str("build", out).Msg("engine")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read build stream: %w", err)
	}
	return imageID, nil
}

// readDockerignore loads exclude patterns from the context's .dockerignore,
// returning nil when no ignore file exists.
func readDockerignore(contextDir string) ([]string, error) {
	b, err := os.ReadFile(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read .dockerignore: %w", err)
	}
	var patterns []string
	for _, line := range strings.Split(string(b), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		patterns = append(patterns, trimmed)
	}
	return patterns, nil
}
