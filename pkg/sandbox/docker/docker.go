package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/nstogner/agentx/pkg/sandbox"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "agentx"
	// LabelTemplate records the template a sandbox was created from.
	LabelTemplate = "agentx-template"
	// DefaultImage is used for templates without an explicit image mapping.
	DefaultImage = "agentx-sandbox:latest"
	// WorkDir is where generated project files live inside the container.
	WorkDir = "/home/user"
	// ReconcileInterval is the default interval between orphan checks.
	ReconcileInterval = time.Minute
)

// Config configures the docker provider.
type Config struct {
	// Images maps template names to container images.
	Images map[string]string
	// DefaultImage is used when a template has no mapping.
	DefaultImage string
	// Ports are the in-container ports published on the host.
	Ports []int
	// HostIP is the host interface ports are published on.
	HostIP string
	// ReconcileInterval is how often Run looks for orphans. Containers
	// younger than one interval are never removed.
	ReconcileInterval time.Duration
}

// Provider implements sandbox.Provider with one Docker container per sandbox.
type Provider struct {
	client *client.Client
	cfg    Config
}

// Verify interface compliance.
var _ sandbox.Provider = (*Provider)(nil)

// New creates a Docker sandbox provider.
func New(cfg Config) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = DefaultImage
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = []int{sandbox.DefaultServicePort}
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = ReconcileInterval
	}
	if cfg.HostIP == "" {
		cfg.HostIP = "127.0.0.1"
	}
	return &Provider{client: cli, cfg: cfg}, nil
}

// Ping checks that the docker daemon is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.client.Ping(ctx)
	return err
}

// Close releases the Docker client resources.
func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) image(template string) string {
	if img, ok := p.cfg.Images[template]; ok && img != "" {
		return img
	}
	// Keys loaded through config files arrive lowercased.
	for name, img := range p.cfg.Images {
		if img != "" && strings.EqualFold(name, template) {
			return img
		}
	}
	return p.cfg.DefaultImage
}

// Create starts a new container from the template's image.
func (p *Provider) Create(ctx context.Context, template string) (sandbox.Environment, error) {
	img := p.image(template)
	if _, _, err := p.client.ImageInspectWithRaw(ctx, img); err != nil {
		return nil, fmt.Errorf("sandbox image '%s' not found: %w", img, err)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, port := range p.cfg.Ports {
		np := nat.Port(strconv.Itoa(port) + "/tcp")
		exposed[np] = struct{}{}
		bindings[np] = []nat.PortBinding{{HostIP: p.cfg.HostIP, HostPort: "0"}}
	}

	name := "agentx-sandbox-" + uuid.NewString()[:12]
	cfg := &container.Config{
		Image:      img,
		WorkingDir: WorkDir,
		Labels: map[string]string{
			LabelManager:  LabelManagerValue,
			LabelTemplate: template,
		},
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}

	resp, err := p.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		p.remove(context.WithoutCancel(ctx), resp.ID)
		return nil, fmt.Errorf("starting container: %w", err)
	}
	slog.Info("Sandbox container started", "name", name, "image", img)
	return &Environment{p: p, id: name}, nil
}

// Connect reattaches to a managed container, starting it if it was stopped.
func (p *Provider) Connect(ctx context.Context, id string) (sandbox.Environment, error) {
	c, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("container not found: %w", err)
	}
	if c.Config == nil || c.Config.Labels[LabelManager] != LabelManagerValue {
		return nil, fmt.Errorf("container %s is not a managed sandbox", id)
	}
	if !c.State.Running {
		if err := p.client.ContainerStart(ctx, c.ID, types.ContainerStartOptions{}); err != nil {
			return nil, fmt.Errorf("container exists but could not be started (state: %s): %w", c.State.Status, err)
		}
	}
	return &Environment{p: p, id: id}, nil
}

// Lister lists the sandbox identities that are still referenced.
type Lister interface {
	ListSandboxIDs(ctx context.Context) ([]string, error)
}

// Run periodically removes managed containers no longer referenced by any
// project. Blocks until ctx is cancelled.
func (p *Provider) Run(ctx context.Context, known Lister) error {
	slog.Info("Sandbox reconciliation loop starting")
	if err := p.Reconcile(ctx, known); err != nil {
		slog.Error("Initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sandbox reconciliation loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Reconcile(ctx, known); err != nil {
				slog.Error("Reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile removes orphaned sandbox containers.
func (p *Provider) Reconcile(ctx context.Context, known Lister) error {
	ids, err := known.ListSandboxIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing sandbox IDs: %w", err)
	}
	containers, err := p.client.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManager+"="+LabelManagerValue)),
	})
	if err != nil {
		return fmt.Errorf("listing managed containers: %w", err)
	}

	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		name := strings.TrimPrefix(c.Names[0], "/")
		if keep[name] {
			continue
		}
		// Containers younger than a reconcile interval may belong to a run
		// that has not persisted its identity yet.
		if time.Since(time.Unix(c.Created, 0)) < p.cfg.ReconcileInterval {
			continue
		}
		slog.Info("Removing orphaned sandbox", "name", name)
		p.remove(ctx, c.ID)
	}
	return nil
}

func (p *Provider) remove(ctx context.Context, id string) {
	timeout := 10
	if err := p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("Failed to stop container", "id", id, "error", err)
	}
	if err := p.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "id", id, "error", err)
	}
}

// Remove stops and deletes a sandbox.
func (p *Provider) Remove(ctx context.Context, id string) {
	p.remove(ctx, id)
}

// Environment is a running sandbox container.
type Environment struct {
	p  *Provider
	id string
}

var _ sandbox.Environment = (*Environment)(nil)

func (e *Environment) ID() string { return e.id }

type chunkWriter struct {
	buf bytes.Buffer
	fn  sandbox.OutputFunc
}

func (w *chunkWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	if w.fn != nil {
		w.fn(string(b))
	}
	return len(b), nil
}

func (e *Environment) Run(ctx context.Context, cmd string, onStdout, onStderr sandbox.OutputFunc) (*sandbox.CommandResult, error) {
	stdout := &chunkWriter{fn: onStdout}
	stderr := &chunkWriter{fn: onStderr}
	code, err := e.exec(ctx, []string{"sh", "-c", cmd}, stdout, stderr)
	if err != nil {
		return nil, err
	}
	return &sandbox.CommandResult{
		Stdout:   stdout.buf.String(),
		Stderr:   stderr.buf.String(),
		ExitCode: code,
	}, nil
}

func (e *Environment) exec(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	created, err := e.p.client.ContainerExecCreate(ctx, e.id, types.ExecConfig{
		Cmd:          argv,
		WorkingDir:   WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("creating exec: %w", err)
	}

	hijacked, err := e.p.client.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return 0, fmt.Errorf("attaching exec: %w", err)
	}
	defer hijacked.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader); err != nil {
		return 0, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := e.p.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, fmt.Errorf("inspecting exec: %w", err)
	}
	return inspect.ExitCode, nil
}

func (e *Environment) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(WorkDir, p)
}

func (e *Environment) WriteFile(ctx context.Context, p string, content []byte) error {
	full := e.abs(p)
	dir := path.Dir(full)

	var stderr bytes.Buffer
	code, err := e.exec(ctx, []string{"mkdir", "-p", dir}, io.Discard, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("mkdir %s: %s", dir, strings.TrimSpace(stderr.String()))
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:    path.Base(full),
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}); err != nil {
		return err
	}
	if _, err := tw.Write(content); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := e.p.client.CopyToContainer(ctx, e.id, dir, &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying %s: %w", p, err)
	}
	return nil
}

func (e *Environment) ReadFile(ctx context.Context, p string) ([]byte, error) {
	rc, _, err := e.p.client.CopyFromContainer(ctx, e.id, e.abs(p))
	if err != nil {
		return nil, fmt.Errorf("copying %s: %w", p, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: not a regular file", p)
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}

func (e *Environment) List(ctx context.Context, p string, depth int) ([]sandbox.Entry, error) {
	root := e.abs(p)
	var stdout, stderr bytes.Buffer
	code, err := e.exec(ctx, []string{
		"find", root, "-mindepth", "1", "-maxdepth", strconv.Itoa(depth), "-printf", `%y\t%s\t%P\n`,
	}, &stdout, &stderr)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("listing %s: %s", p, strings.TrimSpace(stderr.String()))
	}
	return parseFind(stdout.String(), strings.TrimPrefix(strings.TrimPrefix(root, WorkDir), "/")), nil
}

// parseFind parses `find -printf '%y\t%s\t%P\n'` output into entries whose
// paths are relative to the working directory.
func parseFind(out, base string) []sandbox.Entry {
	var entries []sandbox.Entry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 || parts[2] == "" {
			continue
		}
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		entry := sandbox.Entry{
			Name:  path.Base(parts[2]),
			Path:  path.Join(base, parts[2]),
			IsDir: parts[0] == "d",
		}
		if !entry.IsDir {
			entry.Size = size
		}
		entries = append(entries, entry)
	}
	return entries
}

func (e *Environment) Host(ctx context.Context, port int) (string, error) {
	c, err := e.p.client.ContainerInspect(ctx, e.id)
	if err != nil {
		return "", fmt.Errorf("container not found: %w", err)
	}
	if !c.State.Running {
		return "", fmt.Errorf("container not running (state: %s)", c.State.Status)
	}
	bindings := c.NetworkSettings.Ports[nat.Port(strconv.Itoa(port)+"/tcp")]
	if len(bindings) == 0 {
		return "", fmt.Errorf("port %d not mapped", port)
	}
	host := bindings[0].HostIP
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return host + ":" + bindings[0].HostPort, nil
}
