// Package app wires the concrete adapters into usecase.Dependencies,
// following the teacher's internal/app/deps.go factory shape.
package app

import (
	"log/slog"

	"github.com/reidond/hometree/internal/adapters/ageengine"
	"github.com/reidond/hometree/internal/adapters/config"
	"github.com/reidond/hometree/internal/adapters/filesystem"
	"github.com/reidond/hometree/internal/adapters/gitrepo"
	"github.com/reidond/hometree/internal/adapters/notification"
	"github.com/reidond/hometree/internal/adapters/process"
	"github.com/reidond/hometree/internal/adapters/reposync"
	"github.com/reidond/hometree/internal/usecase"
)

// NewDefaultDependencies creates dependencies with the real adapters:
// a git CLI-backed RepoPort, an os/path/filepath-backed
// FileSystemPort, a gofrs/flock advisory LockPort, an age-backed
// SecretsPort, and os/user-backed ProcessPort and TOML-backed
// ConfigPort.
//
// gitDir/workTree bind the RepoPort to the repository resolved from
// configuration; callers that have not yet loaded a config (e.g.
// `init`) may pass empty strings and call Repo.Init explicitly.
func NewDefaultDependencies(logger *slog.Logger, gitDir, workTree string) *usecase.Dependencies {
	if logger == nil {
		panic("default dependencies require logger")
	}
	return &usecase.Dependencies{
		FileSystem: filesystem.New(logger),
		Repo:       gitrepo.New(logger, gitDir, workTree),
		Lock:       reposync.New(logger),
		Secrets:    ageengine.New(),
		Process:    process.New(logger),
		Config:     config.New(logger),
		Notify:     notification.New(logger),
	}
}
