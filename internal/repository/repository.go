package repository

import (
	"context"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

// ProjectRepository reads project configuration.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
}

// DeploymentRepository stores deployment history and runtime endpoints.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	// UpdateDeploymentStatus applies a forward-only status transition. It
	// returns ErrInvalidTransition when the stored status does not admit the
	// requested one, so a record can never move backward.
	UpdateDeploymentStatus(ctx context.Context, update domain.StatusUpdate) error
	// AppendBuildLog appends a fragment to the deployment's accumulated log.
	// The log is monotonically appended, never truncated.
	AppendBuildLog(ctx context.Context, deploymentID, fragment string) error
	// SetDeploymentEndpoint records the started container and its routing
	// coordinates, transitioning the deployment to READY.
	SetDeploymentEndpoint(ctx context.Context, deploymentID, url, containerID string, port int) error
	// ClearDeploymentEndpoint removes the container binding and applies the
	// given terminal status (STOPPED or CANCELLED).
	ClearDeploymentEndpoint(ctx context.Context, deploymentID string, status domain.Status) error
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	// ListRunningByProject returns READY deployments holding a container.
	ListRunningByProject(ctx context.Context, projectID string) ([]domain.Deployment, error)
	// ListRetiredByProject returns STOPPED/FAILED deployments newest first,
	// for image-retention decisions.
	ListRetiredByProject(ctx context.Context, projectID string) ([]domain.Deployment, error)
	// GetReadyDeploymentByURL resolves a production hostname to its newest
	// READY deployment.
	GetReadyDeploymentByURL(ctx context.Context, url string) (*domain.Deployment, error)
}

// EnvVariableRepository reads encrypted environment variables.
type EnvVariableRepository interface {
	ListEnvVariables(ctx context.Context, projectID string) ([]domain.EnvVariable, error)
}
