package build

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5"

	v1 "github.com/f9-o/berth/api/v1"
)

// Git is the source-control access the pipeline needs.
type Git interface {
	Clone(ctx context.Context, url, dir string, out v1.Output) error
	Head(dir string) (string, error)
}

// GoGit implements Git with go-git.
type GoGit struct{}

// Clone clones url into dir, reporting progress lines to out.
func (GoGit) Clone(ctx context.Context, url, dir string, out v1.Output) error {
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:      url,
		Progress: progressWriter{out},
	})
	return err
}

// Head returns the commit hash HEAD points at in the repository containing dir.
func (GoGit) Head(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

type progressWriter struct{ out v1.Output }

func (w progressWriter) Write(p []byte) (int, error) {
	for _, line := range strings.FieldsFunc(string(p), func(r rune) bool { return r == '\n' || r == '\r' }) {
		if line = strings.TrimSpace(line); line != "" {
			w.out.Progress(line)
		}
	}
	return len(p), nil
}
