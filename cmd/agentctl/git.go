// Copyright Contributors to the AgentRun project

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
)

// gitContext holds the defaults derived from the repository containing the
// current directory.
type gitContext struct {
	// RepositoryURL is the first URL of the origin remote.
	RepositoryURL string
	// WorkingDirectory is the current directory relative to the repository
	// root, or "." at the root itself.
	WorkingDirectory string
	// UserName is git's configured user.name.
	UserName string
}

// loadGitContext opens the repository enclosing the current directory. Each
// field is best-effort: a repository without an origin remote still yields a
// usable working directory, and the caller decides which missing values are
// fatal once flags are merged in.
func loadGitContext() (*gitContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainOpenWithOptions(cwd, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository from %s: %w", cwd, err)
	}

	ctx := &gitContext{}

	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			ctx.RepositoryURL = urls[0]
		}
	}

	if wt, err := repo.Worktree(); err == nil {
		if rel, err := filepath.Rel(wt.Filesystem.Root(), cwd); err == nil {
			ctx.WorkingDirectory = filepath.ToSlash(rel)
		}
	}

	if cfg, err := repo.ConfigScoped(gitconfig.SystemScope); err == nil {
		ctx.UserName = cfg.User.Name
	}

	return ctx, nil
}

// resolveCommon merges flags over the git context for the three defaults
// every subcommand shares. Missing repository URL or identity is fatal;
// the gateway cannot fill those in.
func resolveCommon() (repositoryURL, workingDirectory, githubUser string, err error) {
	repositoryURL = flagRepositoryURL
	workingDirectory = flagWorkingDirectory
	githubUser = flagGithubUser

	if repositoryURL == "" || workingDirectory == "" || githubUser == "" {
		gitCtx, gitErr := loadGitContext()
		if gitErr != nil && (repositoryURL == "" || githubUser == "") {
			return "", "", "", fmt.Errorf("no git context and missing flags: %w", gitErr)
		}
		if gitCtx != nil {
			if repositoryURL == "" {
				repositoryURL = gitCtx.RepositoryURL
			}
			if workingDirectory == "" {
				workingDirectory = gitCtx.WorkingDirectory
			}
			if githubUser == "" {
				githubUser = gitCtx.UserName
			}
		}
	}

	if repositoryURL == "" {
		return "", "", "", fmt.Errorf("repository URL not given and no origin remote found")
	}
	if githubUser == "" {
		return "", "", "", fmt.Errorf("github user not given and git user.name is unset")
	}
	workingDirectory = strings.TrimPrefix(workingDirectory, "./")
	return repositoryURL, workingDirectory, githubUser, nil
}
