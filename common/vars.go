package common

// Build information, overridden with -ldflags "-X github.com/nubster/egide/common.Version=...".
var (
	Version     = "dev"
	PackageName = "egide"
)
