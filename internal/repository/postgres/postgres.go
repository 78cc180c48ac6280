package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asergenalkan/vercelclone/internal/domain"
	"github.com/asergenalkan/vercelclone/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository     = (*Repository)(nil)
	_ repository.DeploymentRepository  = (*Repository)(nil)
	_ repository.EnvVariableRepository = (*Repository)(nil)
)

// GetProjectByID retrieves a project by identifier.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, slug, repo_url, framework, production_branch,
		build_command, install_command, output_directory, node_version, auto_deploy, created_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.RepoURL, &p.Framework,
		&p.ProductionBranch, &p.BuildCommand, &p.InstallCommand, &p.OutputDirectory,
		&p.NodeVersion, &p.AutoDeploy, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateDeployment inserts a deployment in its initial state.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	const query = `INSERT INTO deployments
		(id, project_id, status, stage, build_log, url, branch, commit_sha, commit_message,
		 container_id, port, is_preview, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.pool.Exec(ctx, query, d.ID, d.ProjectID, d.Status, d.Stage, d.BuildLog,
		emptyToNil(d.URL), d.Branch, d.CommitSHA, d.CommitMessage, emptyToNil(d.ContainerID),
		intToNil(d.Port), d.IsPreview, emptyToNil(d.ErrorMessage), d.CreatedAt, d.UpdatedAt)
	return err
}

const deploymentColumns = `id, project_id, status, stage, build_log, COALESCE(url, ''),
	branch, commit_sha, commit_message, COALESCE(container_id, ''), COALESCE(port, 0),
	is_preview, COALESCE(error_message, ''), created_at, updated_at, completed_at`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Stage, &d.BuildLog, &d.URL,
		&d.Branch, &d.CommitSHA, &d.CommitMessage, &d.ContainerID, &d.Port,
		&d.IsPreview, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// GetDeploymentByID retrieves a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// UpdateDeploymentStatus applies a forward-only status transition. The WHERE
// clause restricts the update to rows whose current status legally precedes
// the requested one, so concurrent or replayed writes cannot move a
// deployment backward.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, update domain.StatusUpdate) error {
	preds := domain.Predecessors(update.Status)
	from := make([]string, 0, len(preds))
	for _, s := range preds {
		from = append(from, string(s))
	}
	const query = `UPDATE deployments
		SET status = $2, stage = $3, error_message = COALESCE($4, error_message),
		    completed_at = COALESCE($5, completed_at), updated_at = NOW()
		WHERE id = $1 AND status = ANY($6)`
	tag, err := r.pool.Exec(ctx, query, update.DeploymentID, update.Status, update.Stage,
		emptyToNil(update.ErrorMessage), update.CompletedAt, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetDeploymentByID(ctx, update.DeploymentID); err != nil {
			return err
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

// AppendBuildLog appends a fragment to the accumulated build log.
func (r *Repository) AppendBuildLog(ctx context.Context, deploymentID, fragment string) error {
	const query = `UPDATE deployments SET build_log = build_log || $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, deploymentID, fragment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetDeploymentEndpoint records the running container and marks the
// deployment READY.
func (r *Repository) SetDeploymentEndpoint(ctx context.Context, deploymentID, url, containerID string, port int) error {
	const query = `UPDATE deployments
		SET status = $2, stage = '', url = $3, container_id = $4, port = $5,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $6`
	tag, err := r.pool.Exec(ctx, query, deploymentID, domain.StatusReady, url, containerID, port, domain.StatusBuilding)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetDeploymentByID(ctx, deploymentID); err != nil {
			return err
		}
		return repository.ErrInvalidTransition
	}
	return nil
}

// ClearDeploymentEndpoint removes the container binding and applies the given
// terminal status.
func (r *Repository) ClearDeploymentEndpoint(ctx context.Context, deploymentID string, status domain.Status) error {
	const query = `UPDATE deployments
		SET status = $2, container_id = NULL, port = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3`
	tag, err := r.pool.Exec(ctx, query, deploymentID, status, domain.StatusReady)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already cleared or never started; the desired end state holds.
		if _, err := r.GetDeploymentByID(ctx, deploymentID); err != nil {
			return err
		}
	}
	return nil
}

// ListDeploymentsByProject returns recent deployments newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListRunningByProject returns READY deployments that hold a container.
func (r *Repository) ListRunningByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 AND status = $2 AND container_id IS NOT NULL
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, projectID, domain.StatusReady)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListRetiredByProject returns STOPPED and FAILED deployments newest first.
func (r *Repository) ListRetiredByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE project_id = $1 AND status = ANY($2) ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, projectID,
		[]string{string(domain.StatusStopped), string(domain.StatusFailed)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// GetReadyDeploymentByURL resolves a production URL to its newest READY
// deployment.
func (r *Repository) GetReadyDeploymentByURL(ctx context.Context, url string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE url = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`
	return scanDeployment(r.pool.QueryRow(ctx, query, url, domain.StatusReady))
}

// ListEnvVariables returns all environment variables for a project; values
// remain encrypted.
func (r *Repository) ListEnvVariables(ctx context.Context, projectID string) ([]domain.EnvVariable, error) {
	const query = `SELECT id, project_id, key, value, targets, created_at
		FROM env_variables WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vars []domain.EnvVariable
	for rows.Next() {
		var v domain.EnvVariable
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Key, &v.Value, &v.Targets, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.Stage, &d.BuildLog, &d.URL,
			&d.Branch, &d.CommitSHA, &d.CommitMessage, &d.ContainerID, &d.Port,
			&d.IsPreview, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func intToNil(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
