package domain

import "time"

// Environment variable targets. A variable is injected only into deployments
// whose target classification is a member of its target set.
const (
	TargetDevelopment = "development"
	TargetPreview     = "preview"
	TargetProduction  = "production"
)

// EnvVariable stores an encrypted key/value pair scoped to a target set.
type EnvVariable struct {
	ID        string
	ProjectID string
	Key       string
	Value     []byte
	Targets   []string
	CreatedAt time.Time
}

// AppliesTo reports whether the variable is in scope for the given target.
func (v EnvVariable) AppliesTo(target string) bool {
	for _, t := range v.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// TargetForBranch classifies a deployment branch against the project's
// production branch.
func TargetForBranch(project Project, branch string) string {
	if branch == project.ProductionBranch {
		return TargetProduction
	}
	return TargetPreview
}
