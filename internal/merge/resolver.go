package merge

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// assembleFileConflict reads the three merge stages for path out of dir's
// index (1 = common ancestor, 2 = ours, 3 = theirs) plus the working-tree
// copy carrying git's conflict markers. core.GitClient has no stage-read
// operation since it's specific to conflict resolution, so this talks to
// git directly the way the resolver needs to.
func assembleFileConflict(ctx context.Context, dir, path string) (core.FileConflict, error) {
	base, _ := showStage(ctx, dir, 1, path)
	ours, _ := showStage(ctx, dir, 2, path)
	theirs, _ := showStage(ctx, dir, 3, path)

	markers, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		return core.FileConflict{}, err
	}

	return core.FileConflict{
		FilePath: path,
		OursContent: ours,
		TheirsContent: theirs,
		BaseContent: base,
		ConflictMarkers: string(markers),
	}, nil
}

func showStage(ctx context.Context, dir string, stage int, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "show", ":"+strconv.Itoa(stage)+":"+path)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func writeResolvedFile(dir, path, content string) error {
	return os.WriteFile(filepath.Join(dir, path), []byte(content), 0o644)
}

func sanitizeTagSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// validateGitRef applies git's ref-name rules to a caller-provided ref
// before it ever reaches git, notably sourceBranch.
func validateGitRef(ref string) error {
	if ref == "" {
		return core.ErrInvalidRef("ref", "must not be empty")
	}
	if strings.ContainsAny(ref, " \t\n\r~^:?*[\\") {
		return core.ErrInvalidRef("ref", "contains whitespace or a forbidden character")
	}
	if strings.Contains(ref, "..") || strings.Contains(ref, "@{") || strings.Contains(ref, "//") {
		return core.ErrInvalidRef("ref", "contains a forbidden sequence")
	}
	if strings.HasPrefix(ref, ".") || strings.HasSuffix(ref, ".") || strings.HasSuffix(ref, ".lock") {
		return core.ErrInvalidRef("ref", "has a forbidden prefix or suffix")
	}
	for _, segment := range strings.Split(ref, "/") {
		if strings.HasPrefix(segment, ".") {
			return core.ErrInvalidRef("ref", "a path segment starts with '.'")
		}
	}
	return nil
}
