package httpapi

import (
	"context"
	"errors"

	"github.com/asergenalkan/vercelclone/internal/repository"
)

// RepoSnapshotLoader seeds hub rooms from the persisted deployment record, so
// a viewer joining after a gateway restart still sees the full accumulated log.
type RepoSnapshotLoader struct {
	deployments repository.DeploymentRepository
}

// NewRepoSnapshotLoader builds a loader over the deployment store.
func NewRepoSnapshotLoader(deployments repository.DeploymentRepository) *RepoSnapshotLoader {
	return &RepoSnapshotLoader{deployments: deployments}
}

// LoadSnapshot returns the accumulated build log and current status. An
// unknown deployment yields an empty snapshot rather than an error; the room
// simply starts blank.
func (l *RepoSnapshotLoader) LoadSnapshot(ctx context.Context, deploymentID string) (string, string, error) {
	dep, err := l.deployments.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", nil
		}
		return "", "", err
	}
	return dep.BuildLog, string(dep.Status), nil
}
