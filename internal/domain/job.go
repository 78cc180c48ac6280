package domain

import "time"

// CommitLatest is the sentinel used when a job should build the branch head
// rather than a pinned commit.
const CommitLatest = "latest"

// Job priority classes. Production deploys must never be starved behind a
// backlog of previews.
const (
	PriorityProduction = 1
	PriorityPreview    = 2
)

// BuildJob is the transient work item consumed exactly once by a worker. Its
// durable shadow is the Deployment record.
type BuildJob struct {
	ID              string    `json:"id"`
	DeploymentID    string    `json:"deployment_id"`
	ProjectID       string    `json:"project_id"`
	UserID          string    `json:"user_id"`
	RepoURL         string    `json:"repo_url"`
	Branch          string    `json:"branch"`
	CommitSHA       string    `json:"commit_sha"`
	Framework       string    `json:"framework"`
	BuildCommand    string    `json:"build_command,omitempty"`
	InstallCommand  string    `json:"install_command,omitempty"`
	OutputDirectory string    `json:"output_directory,omitempty"`
	NodeVersion     string    `json:"node_version,omitempty"`
	AccessToken     string    `json:"access_token,omitempty"`
	IsPreview       bool      `json:"is_preview"`
	Priority        int       `json:"priority"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}
