package domain

import "time"

// Project describes a deployable unit. The core treats it as read-only
// configuration owned by the metadata store.
type Project struct {
	ID               string
	OwnerID          string
	Name             string
	Slug             string
	RepoURL          string
	Framework        string
	ProductionBranch string
	BuildCommand     string
	InstallCommand   string
	OutputDirectory  string
	NodeVersion      string
	AutoDeploy       bool
	CreatedAt        time.Time
}

// Supported framework tags. Anything else falls back to the generic Node image.
const (
	FrameworkNext   = "next"
	FrameworkReact  = "react"
	FrameworkVue    = "vue"
	FrameworkStatic = "static"
)
