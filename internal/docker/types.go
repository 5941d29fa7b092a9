package docker

import "time"

// Container is a minimal container summary used by the deploy pipeline to
// avoid leaking the SDK types upward.
type Container struct {
	ID      string            `json:"Id"`
	Image   string            `json:"Image"`
	ImageID string            `json:"ImageID"`
	Names   []string          `json:"Names"`
	State   string            `json:"State"`
	Labels  map[string]string `json:"Labels"`
}

// BuildOptions describes a single image build.
type BuildOptions struct {
	// ContextDir is the build context directory, tarred honouring its
	// .dockerignore file.
	ContextDir string
	// Dockerfile is the path of the Dockerfile relative to the context.
	Dockerfile string
	// Tag is the reference the built image is tagged with.
	Tag string
	// BuildArgs are passed through to the engine.
	BuildArgs map[string]string
	// PullBase asks the engine to attempt a pull of newer base layers.
	PullBase bool
}

// RunOptions describes the container created from a freshly built image.
type RunOptions struct {
	Image         string
	Name          string
	Env           []string
	RestartPolicy string
	Ports         []string
	Binds         []string
	Labels        map[string]string
}

// VerifyOptions bounds the post-start verification loop.
type VerifyOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}
