// Package git stages the operator's repository into a fixed local working
// copy, reusing it across runs.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/yoanbernabeu/hostdeploy/internal/config"
	"github.com/yoanbernabeu/hostdeploy/internal/deployerr"
	"github.com/yoanbernabeu/hostdeploy/internal/runlog"
)

const tokenUser = "x-access-token"

// StagedRepo is the local working copy ready for transfer.
type StagedRepo struct {
	Path   string
	Branch string
	Commit string
	// Fresh is true when the copy was cloned during this run.
	Fresh bool
}

// Stager clones or updates the working copy at Path.
type Stager struct {
	Path string
	log  *runlog.Logger
	// depth limits clone and fetch history; 0 fetches everything.
	depth int
}

// NewStager returns a Stager that keeps a shallow working copy at path.
func NewStager(path string, log *runlog.Logger) *Stager {
	return &Stager{
		Path:  path,
		log:   log,
		depth: 1,
	}
}

// Stage brings the working copy to the tip of req.Branch.
func (s *Stager) Stage(ctx context.Context, req *config.DeploymentRequest) (*StagedRepo, error) {
	if err := ctx.Err(); err != nil {
		return nil, deployerr.Wrap(deployerr.ErrStaging, err)
	}
	if req.Token != "" {
		s.log.Redact(req.Token)
	}
	auth := authFor(req)

	repo, err := gogit.PlainOpen(s.Path)
	fresh := err != nil
	if !fresh && originURL(repo) != req.RepoURL {
		s.log.Info("Working copy at %s tracks another repository, cloning again", s.Path)
		fresh = true
	}

	if fresh {
		repo, err = s.clone(ctx, req, auth)
	} else {
		err = s.update(ctx, repo, req, auth)
	}
	if err != nil {
		return nil, deployerr.Wrap(deployerr.ErrStaging, s.scrub(ctx, err))
	}

	head, err := repo.Head()
	if err != nil {
		return nil, deployerr.Wrap(deployerr.ErrStaging, fmt.Errorf("failed to resolve HEAD: %w", err))
	}

	staged := &StagedRepo{
		Path:   s.Path,
		Branch: req.Branch,
		Commit: head.Hash().String()[:7],
		Fresh:  fresh,
	}
	how := "updated"
	if staged.Fresh {
		how = "cloned"
	}
	s.log.Success("Staged %s@%s (%s, %s) in %s", req.RepoURL, staged.Branch, staged.Commit, how, staged.Path)
	return staged, nil
}

// authFor returns token credentials for http(s) remotes. The token travels
// as basic auth and never lands in the URL or .git/config.
func authFor(req *config.DeploymentRequest) transport.AuthMethod {
	if !req.UsesToken() {
		return nil
	}
	return &http.BasicAuth{Username: tokenUser, Password: req.Token}
}

func originURL(repo *gogit.Repository) string {
	origin, err := repo.Remote("origin")
	if err != nil || len(origin.Config().URLs) == 0 {
		return ""
	}
	return origin.Config().URLs[0]
}

func (s *Stager) clone(ctx context.Context, req *config.DeploymentRequest, auth transport.AuthMethod) (*gogit.Repository, error) {
	s.log.Info("Cloning %s (branch %s)", req.RepoURL, req.Branch)

	if err := os.RemoveAll(s.Path); err != nil {
		return nil, fmt.Errorf("failed to remove stale working copy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(s.Path), err)
	}

	repo, err := gogit.PlainCloneContext(ctx, s.Path, false, &gogit.CloneOptions{
		URL:           req.RepoURL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(req.Branch),
		SingleBranch:  true,
		Depth:         s.depth,
	})
	if err != nil {
		return nil, fmt.Errorf("clone failed: %w", err)
	}
	return repo, nil
}

func (s *Stager) update(ctx context.Context, repo *gogit.Repository, req *config.DeploymentRequest, auth transport.AuthMethod) error {
	s.log.Info("Updating working copy to the tip of %s", req.Branch)
	b := req.Branch
	local := plumbing.NewBranchReferenceName(b)
	tracking := plumbing.NewRemoteReferenceName("origin", b)

	s.log.Debug("fetch origin +%s:%s", local, tracking)
	err := repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+%s:%s", local, tracking))},
		Auth:       auth,
		Depth:      s.depth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch failed: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}

	checkout := &gogit.CheckoutOptions{Branch: local}
	if _, err := repo.Reference(local, false); err != nil {
		remoteRef, rerr := repo.Reference(tracking, true)
		if rerr != nil {
			return fmt.Errorf("branch %s not found on origin: %w", b, rerr)
		}
		s.log.Debug("checkout -b %s %s", b, tracking.Short())
		checkout.Create = true
		checkout.Hash = remoteRef.Hash()
	}
	if err := worktree.Checkout(checkout); err != nil {
		return fmt.Errorf("checkout %s failed: %w", b, err)
	}

	// Fast-forward only: a diverged local branch is an error.
	err = worktree.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: local,
		SingleBranch:  true,
		Auth:          auth,
		Depth:         s.depth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull failed: %w", err)
	}
	return nil
}

// scrub returns the context error on cancellation, otherwise err with any
// registered secret masked.
func (s *Stager) scrub(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.log.Debug("git: %v", err)
	return errors.New(s.log.Scrub(err.Error()))
}
