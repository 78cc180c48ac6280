package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/asergenalkan/vercelclone/internal/docker"
	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/repository"
	"github.com/asergenalkan/vercelclone/internal/workspace"
	"github.com/asergenalkan/vercelclone/pkg/crypto"
)

// LogSink receives build output and status transitions for live viewers.
// Implemented by the hub publisher.
type LogSink interface {
	Publish(deploymentID, log, status string)
}

// ImageEngine is the slice of the container runtime the pipeline needs.
type ImageEngine interface {
	BuildImage(ctx context.Context, dir, dockerfile, tag string, buildArgs map[string]*string, onOutput docker.BuildOutputCallback) error
	InspectImage(ctx context.Context, ref string) (string, error)
}

// ContainerStarter hands a built image to the lifecycle manager.
type ContainerStarter interface {
	StartContainer(ctx context.Context, dep *domain.Deployment, project *domain.Project, imageTag string) (*domain.Deployment, error)
}

// ProgressReporter records pipeline progress on the job record.
type ProgressReporter interface {
	SetProgress(ctx context.Context, jobID string, progress int) error
}

// Config bounds the pipeline's stages.
type Config struct {
	Registry         string
	GitTimeout       time.Duration
	InstallTimeout   time.Duration
	BuildTimeout     time.Duration
	ImageTimeout     time.Duration
	OutputLimitBytes int
	EnvEncryptionKey string
}

// Pipeline executes one build job through its five stages: clone, install,
// build, containerize, start. Stages are strictly sequential; the first hard
// failure marks the deployment FAILED and stops.
type Pipeline struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	envs        repository.EnvVariableRepository
	workspace   *workspace.Manager
	cloner      GitCloner
	images      ImageEngine
	starter     ContainerStarter
	runner      CommandRunner
	sink        LogSink
	progress    ProgressReporter
	cfg         Config
	logger      *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	projects repository.ProjectRepository,
	deployments repository.DeploymentRepository,
	envs repository.EnvVariableRepository,
	ws *workspace.Manager,
	cloner GitCloner,
	images ImageEngine,
	starter ContainerStarter,
	runner CommandRunner,
	sink LogSink,
	progress ProgressReporter,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.GitTimeout <= 0 {
		cfg.GitTimeout = 2 * time.Minute
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 10 * time.Minute
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 15 * time.Minute
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 15 * time.Minute
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = 1 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		projects:    projects,
		deployments: deployments,
		envs:        envs,
		workspace:   ws,
		cloner:      cloner,
		images:      images,
		starter:     starter,
		runner:      runner,
		sink:        sink,
		progress:    progress,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run processes a single job to completion or failure.
func (p *Pipeline) Run(ctx context.Context, job *domain.BuildJob) error {
	log := p.logger.With("job_id", job.ID, "deployment_id", job.DeploymentID)
	log.Info("build started", "project_id", job.ProjectID, "branch", job.Branch)
	started := time.Now()

	project, err := p.projects.GetProjectByID(ctx, job.ProjectID)
	if err != nil {
		p.fail(ctx, job, started, domain.StageQueued, "", fmt.Errorf("load project: %w", err))
		return err
	}
	proj := *project
	if job.Framework != "" {
		proj.Framework = job.Framework
	}
	if job.OutputDirectory != "" {
		proj.OutputDirectory = job.OutputDirectory
	}

	// Stage 1: clone.
	p.transition(ctx, job, domain.StageCloning)
	p.report(ctx, job, 10)
	p.emit(job, fmt.Sprintf("Cloning %s (branch %s)...\n", job.RepoURL, job.Branch))

	workdir, err := p.workspace.Prepare(job.DeploymentID)
	if err != nil {
		p.fail(ctx, job, started, domain.StageCloning, "", err)
		return err
	}
	defer func() {
		// Cleanup failures never change the deployment's outcome.
		if err := p.workspace.Cleanup(workdir); err != nil {
			log.Error("workspace cleanup failed", "error", err)
		}
	}()

	cloneCtx, cancelClone := context.WithTimeout(ctx, p.cfg.GitTimeout)
	cloneErr := p.cloner.Clone(cloneCtx, CloneSpec{
		RepoURL:     job.RepoURL,
		Branch:      job.Branch,
		CommitSHA:   job.CommitSHA,
		AccessToken: job.AccessToken,
	}, workdir)
	cancelClone()
	if cloneErr != nil {
		p.emit(job, Scrub(fmt.Sprintf("Clone failed: %v\n", cloneErr), job.AccessToken))
		p.emit(job, "Falling back to the sample application.\n")
		log.Warn("clone failed, scaffolding sample application", "error", cloneErr)
		if err := WriteScaffold(workdir, proj.Name); err != nil {
			p.fail(ctx, job, started, domain.StageCloning, "", err)
			return err
		}
		proj.Framework = domain.FrameworkStatic
		proj.OutputDirectory = ""
	} else {
		p.emit(job, "Repository cloned.\n")
	}

	// Stages 2 and 3: install and build. Repositories without a manifest
	// (plain static sites, the scaffold) skip both.
	standaloneNext := false
	if HasManifest(workdir) {
		pm := DetectPackageManager(workdir)
		p.transition(ctx, job, domain.StageInstalling)
		p.report(ctx, job, 30)
		buildEnv, err := p.buildEnv(ctx, &proj, job)
		if err != nil {
			p.fail(ctx, job, started, domain.StageInstalling, "", err)
			return err
		}
		installCmd := firstNonEmpty(job.InstallCommand, proj.InstallCommand, pm.InstallCommand(workdir))
		p.emit(job, fmt.Sprintf("Installing dependencies with %s...\n", pm))

		installCtx, cancelInstall := context.WithTimeout(ctx, p.cfg.InstallTimeout)
		output, err := p.runner(installCtx, workdir, installCmd, buildEnv, p.cfg.OutputLimitBytes, p.lineSink(job))
		cancelInstall()
		if err != nil {
			p.fail(ctx, job, started, domain.StageInstalling, output, err)
			return err
		}

		p.transition(ctx, job, domain.StageBuilding)
		p.report(ctx, job, 50)
		if proj.Framework == domain.FrameworkNext {
			generated, err := EnsureNextConfig(workdir)
			if err != nil {
				p.fail(ctx, job, started, domain.StageBuilding, "", err)
				return err
			}
			standaloneNext = true
			if generated {
				p.emit(job, "Generated next.config.mjs with standalone output.\n")
			} else {
				// An existing config is never rewritten; the standalone
				// server is requested through the build environment instead.
				buildEnv = append(buildEnv, "NEXT_PRIVATE_STANDALONE=true")
				p.emit(job, "Existing next config detected, enabling standalone output via environment.\n")
			}
		}
		buildCmd := firstNonEmpty(job.BuildCommand, proj.BuildCommand, pm.RunScript("build"))
		p.emit(job, fmt.Sprintf("Running build: %s\n", buildCmd))

		buildCtx, cancelBuild := context.WithTimeout(ctx, p.cfg.BuildTimeout)
		output, err = p.runner(buildCtx, workdir, buildCmd, buildEnv, p.cfg.OutputLimitBytes, p.lineSink(job))
		cancelBuild()
		if err != nil {
			p.fail(ctx, job, started, domain.StageBuilding, output, err)
			return err
		}
		p.emit(job, "Build completed.\n")
	} else {
		p.emit(job, "No package.json found, skipping install and build stages.\n")
	}

	// Stage 4: containerize.
	p.transition(ctx, job, domain.StageImaging)
	p.report(ctx, job, 70)
	imageTag := fmt.Sprintf("%s/%s:%s", p.cfg.Registry, job.ProjectID, job.DeploymentID)

	nodeVersion := firstNonEmpty(job.NodeVersion, proj.NodeVersion, defaultNodeVersion)
	generated, err := EnsureDockerfile(workdir, &proj, standaloneNext, nodeVersion)
	if err != nil {
		p.fail(ctx, job, started, domain.StageImaging, "", err)
		return err
	}
	if generated {
		p.emit(job, fmt.Sprintf("Generated Dockerfile for %s.\n", proj.Framework))
	}
	p.emit(job, fmt.Sprintf("Building image %s...\n", imageTag))

	imageCtx, cancelImage := context.WithTimeout(ctx, p.cfg.ImageTimeout)
	buildErr := p.images.BuildImage(imageCtx, workdir, "", imageTag, nil, func(line string) {
		p.emit(job, line)
	})
	if buildErr == nil {
		// The daemon reporting success is not proof the image exists.
		_, buildErr = p.images.InspectImage(imageCtx, imageTag)
	}
	cancelImage()
	if buildErr != nil {
		p.fail(ctx, job, started, domain.StageImaging, "", buildErr)
		return buildErr
	}
	p.emit(job, "Image built.\n")

	// Stage 5: start.
	p.transition(ctx, job, domain.StageStarting)
	p.report(ctx, job, 90)
	dep, err := p.deployments.GetDeploymentByID(ctx, job.DeploymentID)
	if err != nil {
		p.fail(ctx, job, started, domain.StageStarting, "", err)
		return err
	}
	running, err := p.starter.StartContainer(ctx, dep, &proj, imageTag)
	if err != nil {
		p.fail(ctx, job, started, domain.StageStarting, "", err)
		return err
	}

	p.report(ctx, job, 100)
	p.sink.Publish(job.DeploymentID,
		fmt.Sprintf("Deployment ready at https://%s\n", running.URL),
		string(domain.StatusReady))
	recordBuildResult("completed", domain.StageStarting, time.Since(started))
	log.Info("build succeeded", "url", running.URL, "container_id", running.ContainerID)
	return nil
}

// transition moves the deployment forward and mirrors the stage to viewers.
func (p *Pipeline) transition(ctx context.Context, job *domain.BuildJob, stage domain.Stage) {
	err := p.deployments.UpdateDeploymentStatus(ctx, domain.StatusUpdate{
		DeploymentID: job.DeploymentID,
		Status:       domain.StatusBuilding,
		Stage:        stage,
	})
	if err != nil {
		p.logger.Warn("stage transition failed",
			"deployment_id", job.DeploymentID, "stage", stage, "error", err)
	}
}

func (p *Pipeline) report(ctx context.Context, job *domain.BuildJob, progress int) {
	if p.progress == nil {
		return
	}
	if err := p.progress.SetProgress(ctx, job.ID, progress); err != nil {
		p.logger.Warn("progress update failed", "job_id", job.ID, "error", err)
	}
}

func (p *Pipeline) emit(job *domain.BuildJob, line string) {
	if p.sink == nil {
		return
	}
	p.sink.Publish(job.DeploymentID, line, "")
}

// lineSink adapts the sink to the command runner's streaming callback,
// scrubbing the job's credential from every line.
func (p *Pipeline) lineSink(job *domain.BuildJob) func(string) {
	return func(line string) {
		p.emit(job, Scrub(line, job.AccessToken))
	}
}

func (p *Pipeline) fail(ctx context.Context, job *domain.BuildJob, started time.Time, stage domain.Stage, output string, cause error) {
	recordBuildResult("failed", stage, time.Since(started))
	msg := Scrub(FailureMessage(cause, output), job.AccessToken)
	now := time.Now().UTC()
	err := p.deployments.UpdateDeploymentStatus(ctx, domain.StatusUpdate{
		DeploymentID: job.DeploymentID,
		Status:       domain.StatusFailed,
		Stage:        stage,
		ErrorMessage: msg,
		CompletedAt:  &now,
	})
	if err != nil {
		p.logger.Error("record failure", "deployment_id", job.DeploymentID, "error", err)
	}
	if p.sink != nil {
		p.sink.Publish(job.DeploymentID, "Build failed: "+msg+"\n", string(domain.StatusFailed))
	}
	p.logger.Error("build failed",
		"job_id", job.ID, "deployment_id", job.DeploymentID, "stage", stage, "error", cause)
}

// buildEnv assembles the environment for the install and build commands:
// decrypted project variables scoped to the deployment's target, plus the
// platform flags every build runs with. NEXT_PUBLIC_* values are baked into
// the bundle here, so a missing variable is a build defect, not a runtime one.
func (p *Pipeline) buildEnv(ctx context.Context, project *domain.Project, job *domain.BuildJob) ([]string, error) {
	env := []string{
		"CI=true",
		"NEXT_TELEMETRY_DISABLED=1",
		"NODE_ENV=production",
	}
	if p.envs == nil {
		return env, nil
	}
	target := domain.TargetForBranch(*project, job.Branch)
	vars, err := p.envs.ListEnvVariables(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list env variables: %w", err)
	}
	for _, v := range vars {
		if !v.AppliesTo(target) {
			continue
		}
		plain, err := crypto.DecryptToString(p.cfg.EnvEncryptionKey, v.Value)
		if err != nil {
			return nil, fmt.Errorf("decrypt env %s: %w", v.Key, err)
		}
		env = append(env, v.Key+"="+plain)
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
