package domain

import "time"

// Status is the lifecycle state of a deployment.
type Status string

// Deployment lifecycle states. Transitions only ever move forward; a terminal
// state is never left.
const (
	StatusPending   Status = "PENDING"
	StatusBuilding  Status = "BUILDING"
	StatusReady     Status = "READY"
	StatusFailed    Status = "FAILED"
	StatusStopped   Status = "STOPPED"
	StatusCancelled Status = "CANCELLED"
)

// Stage identifies the pipeline sub-stage while a deployment is BUILDING.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageCloning    Stage = "cloning"
	StageInstalling Stage = "installing"
	StageBuilding   Stage = "building"
	StageImaging    Stage = "imaging"
	StageStarting   Stage = "starting"
)

// transitions enumerates the legal forward edges of the state machine.
var transitions = map[Status][]Status{
	StatusPending:  {StatusBuilding, StatusFailed, StatusCancelled},
	StatusBuilding: {StatusBuilding, StatusReady, StatusFailed},
	StatusReady:    {StatusStopped, StatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Predecessors returns the set of states from which next is reachable. The
// repository uses this to guard status updates so a record can never move
// backward even under racing writers.
func Predecessors(next Status) []Status {
	var from []Status
	for s, targets := range transitions {
		for _, t := range targets {
			if t == next {
				from = append(from, s)
				break
			}
		}
	}
	return from
}

// Deployment captures a single build-and-run attempt for a project.
type Deployment struct {
	ID            string
	ProjectID     string
	Status        Status
	Stage         Stage
	BuildLog      string
	URL           string
	Branch        string
	CommitSHA     string
	CommitMessage string
	ContainerID   string
	Port          int
	IsPreview     bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// SameSlot reports whether other occupies the same live-container slot:
// production deployments share one slot per project, preview deployments one
// slot per branch.
func (d Deployment) SameSlot(other Deployment) bool {
	if d.ProjectID != other.ProjectID {
		return false
	}
	if d.IsPreview != other.IsPreview {
		return false
	}
	if d.IsPreview {
		return d.Branch == other.Branch
	}
	return true
}

// StatusUpdate carries the mutable fields of a deployment status write.
type StatusUpdate struct {
	DeploymentID string
	Status       Status
	Stage        Stage
	ErrorMessage string
	CompletedAt  *time.Time
}
