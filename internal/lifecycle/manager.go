package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/asergenalkan/vercelclone/internal/docker"
	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/repository"
	"github.com/asergenalkan/vercelclone/pkg/crypto"
)

// Engine is the slice of the container runtime the manager needs.
type Engine interface {
	RunContainer(ctx context.Context, name, image string, env []string, ports nat.PortMap) (docker.ContainerInfo, error)
	StopContainer(ctx context.Context, containerID string, grace time.Duration) error
	RemoveContainer(ctx context.Context, name string) error
	UsedPorts(ctx context.Context) (map[int]bool, error)
	ListImages(ctx context.Context, prefix string) ([]docker.ImageSummary, error)
	RemoveImage(ctx context.Context, ref string) error
	PruneDangling(ctx context.Context) (uint64, error)
}

// Config carries the manager's runtime settings.
type Config struct {
	DomainSuffix     string
	Registry         string
	AppPort          int
	StopGrace        time.Duration
	ImageRetention   int
	EnvEncryptionKey string
}

// Manager starts and retires deployment containers. A project holds one live
// production container, plus one per preview branch; starting a new
// deployment into an occupied slot retires the previous holder.
type Manager struct {
	engine      Engine
	deployments repository.DeploymentRepository
	envs        repository.EnvVariableRepository
	ports       PortAllocator
	logger      *slog.Logger
	cfg         Config
}

// NewManager constructs a Manager.
func NewManager(engine Engine, deployments repository.DeploymentRepository, envs repository.EnvVariableRepository, ports PortAllocator, cfg Config, logger *slog.Logger) *Manager {
	if cfg.AppPort <= 0 {
		cfg.AppPort = 3000
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if cfg.ImageRetention <= 0 {
		cfg.ImageRetention = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:      engine,
		deployments: deployments,
		envs:        envs,
		ports:       ports,
		logger:      logger,
		cfg:         cfg,
	}
}

// Hostname returns the routing hostname for a deployment.
func (m *Manager) Hostname(dep *domain.Deployment, project *domain.Project) string {
	if dep.IsPreview {
		return fmt.Sprintf("%s.preview.%s", dep.ID, m.cfg.DomainSuffix)
	}
	return fmt.Sprintf("%s.%s", project.Slug, m.cfg.DomainSuffix)
}

// ImageTag returns the registry tag for a deployment's image.
func (m *Manager) ImageTag(projectID, deploymentID string) string {
	return fmt.Sprintf("%s/%s:%s", m.cfg.Registry, projectID, deploymentID)
}

// StartContainer retires the slot's previous holder, allocates a port, runs
// the image, and records the endpoint. Retiring first matches the invariant
// that a project never holds two live containers for one slot.
func (m *Manager) StartContainer(ctx context.Context, dep *domain.Deployment, project *domain.Project, imageTag string) (*domain.Deployment, error) {
	if err := m.retirePrior(ctx, dep); err != nil {
		m.logger.Warn("retire prior deployment", "deployment_id", dep.ID, "error", err)
	}

	port, err := m.ports.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	env, err := m.containerEnv(ctx, dep, project)
	if err != nil {
		m.ports.Release(port)
		return nil, err
	}

	appPort := nat.Port(fmt.Sprintf("%d/tcp", m.cfg.AppPort))
	bindings := nat.PortMap{
		appPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}},
	}

	name := containerName(dep.ID)
	// A stale container from a crashed earlier attempt would fail the
	// create with a name conflict.
	if err := m.engine.RemoveContainer(ctx, name); err != nil {
		m.logger.Warn("remove stale container", "name", name, "error", err)
	}

	info, err := m.engine.RunContainer(ctx, name, imageTag, env, bindings)
	if err != nil {
		m.ports.Release(port)
		return nil, fmt.Errorf("run container: %w", err)
	}

	hostname := m.Hostname(dep, project)
	if err := m.deployments.SetDeploymentEndpoint(ctx, dep.ID, hostname, info.ID, port); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.cfg.StopGrace+5*time.Second)
		defer cancel()
		_ = m.engine.StopContainer(stopCtx, info.ID, m.cfg.StopGrace)
		_ = m.engine.RemoveContainer(stopCtx, info.ID)
		m.ports.Release(port)
		return nil, fmt.Errorf("record endpoint: %w", err)
	}

	m.logger.Info("container started",
		"deployment_id", dep.ID, "container_id", info.ID, "port", port, "url", hostname)

	started := *dep
	started.Status = domain.StatusReady
	started.URL = hostname
	started.ContainerID = info.ID
	started.Port = port
	return &started, nil
}

// retirePrior stops every READY deployment occupying the same slot.
func (m *Manager) retirePrior(ctx context.Context, dep *domain.Deployment) error {
	running, err := m.deployments.ListRunningByProject(ctx, dep.ProjectID)
	if err != nil {
		return fmt.Errorf("list running deployments: %w", err)
	}
	for _, prior := range running {
		if prior.ID == dep.ID || !dep.SameSlot(prior) {
			continue
		}
		if err := m.teardown(ctx, &prior, domain.StatusStopped); err != nil {
			m.logger.Warn("retire deployment", "deployment_id", prior.ID, "error", err)
			continue
		}
		m.logger.Info("retired prior deployment",
			"deployment_id", prior.ID, "replaced_by", dep.ID)
	}
	return nil
}

// StopDeployment stops a READY deployment's container and marks it STOPPED.
func (m *Manager) StopDeployment(ctx context.Context, dep *domain.Deployment) error {
	return m.teardown(ctx, dep, domain.StatusStopped)
}

// CleanupDeploymentResources tears a deployment down into the given terminal
// status. It is idempotent: missing containers are not an error.
func (m *Manager) CleanupDeploymentResources(ctx context.Context, dep *domain.Deployment, status domain.Status) error {
	return m.teardown(ctx, dep, status)
}

func (m *Manager) teardown(ctx context.Context, dep *domain.Deployment, status domain.Status) error {
	if dep.ContainerID != "" {
		if err := m.engine.StopContainer(ctx, dep.ContainerID, m.cfg.StopGrace); err != nil {
			return fmt.Errorf("stop container: %w", err)
		}
		if err := m.engine.RemoveContainer(ctx, dep.ContainerID); err != nil {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	if err := m.deployments.ClearDeploymentEndpoint(ctx, dep.ID, status); err != nil {
		return fmt.Errorf("clear endpoint: %w", err)
	}
	if dep.Port > 0 {
		m.ports.Release(dep.Port)
	}
	return nil
}

// CleanupProjectResources stops every running deployment of a project and
// removes its images. Used when a project is deleted.
func (m *Manager) CleanupProjectResources(ctx context.Context, projectID string) error {
	running, err := m.deployments.ListRunningByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list running deployments: %w", err)
	}
	for _, dep := range running {
		if err := m.teardown(ctx, &dep, domain.StatusStopped); err != nil {
			m.logger.Warn("stop project deployment", "deployment_id", dep.ID, "error", err)
		}
	}

	prefix := fmt.Sprintf("%s/%s:", m.cfg.Registry, projectID)
	images, err := m.engine.ListImages(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list project images: %w", err)
	}
	for _, img := range images {
		if err := m.engine.RemoveImage(ctx, img.Tag); err != nil {
			m.logger.Warn("remove project image", "tag", img.Tag, "error", err)
		}
	}
	if _, err := m.engine.PruneDangling(ctx); err != nil {
		m.logger.Warn("prune dangling images", "error", err)
	}
	return nil
}

// CleanupOldImages keeps the newest retention images for a project and
// removes the rest, then prunes dangling layers.
func (m *Manager) CleanupOldImages(ctx context.Context, projectID string) error {
	prefix := fmt.Sprintf("%s/%s:", m.cfg.Registry, projectID)
	images, err := m.engine.ListImages(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list project images: %w", err)
	}
	if len(images) > m.cfg.ImageRetention {
		for _, img := range images[m.cfg.ImageRetention:] {
			if err := m.engine.RemoveImage(ctx, img.Tag); err != nil {
				m.logger.Warn("remove old image", "tag", img.Tag, "error", err)
				continue
			}
			m.logger.Info("pruned old image", "tag", img.Tag)
		}
	}
	if _, err := m.engine.PruneDangling(ctx); err != nil {
		m.logger.Warn("prune dangling images", "error", err)
	}
	return nil
}

// containerEnv assembles the container environment: decrypted project
// variables scoped to the deployment's target, plus the runtime port.
func (m *Manager) containerEnv(ctx context.Context, dep *domain.Deployment, project *domain.Project) ([]string, error) {
	target := domain.TargetForBranch(*project, dep.Branch)
	vars, err := m.envs.ListEnvVariables(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list env variables: %w", err)
	}
	env := []string{
		fmt.Sprintf("PORT=%d", m.cfg.AppPort),
		"NODE_ENV=production",
	}
	for _, v := range vars {
		if !v.AppliesTo(target) {
			continue
		}
		plain, err := crypto.DecryptToString(m.cfg.EnvEncryptionKey, v.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt env %s: %w", v.Key, err)
		}
		env = append(env, v.Key+"="+plain)
	}
	return env, nil
}

func containerName(deploymentID string) string {
	return "deploy-" + deploymentID
}
