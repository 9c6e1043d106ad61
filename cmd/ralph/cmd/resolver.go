package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/core"
	"github.com/ralph-tui/ralph-tui/internal/merge"
)

// agentResolver drives adapter to propose a resolved file for a merge
// conflict, asking it to emit the file between sentinel lines so the
// rest of its (possibly chatty) output can be discarded. It satisfies
// merge.AiResolver.
func agentResolver(adapter core.AgentAdapter) merge.AiResolver {
	return func(ctx context.Context, conflict core.FileConflict, task *core.Task) (string, error) {
		prompt := buildConflictPrompt(conflict, task)
		handle, err := adapter.Execute(ctx, prompt, core.ExecuteOptions{})
		if err != nil {
			return "", fmt.Errorf("starting conflict-resolution agent: %w", err)
		}
		for range handle.Events() {
		}
		res, err := handle.Wait(ctx)
		if err != nil {
			return "", fmt.Errorf("waiting for conflict-resolution agent: %w", err)
		}
		resolved, ok := extractResolvedFile(res.Stdout)
		if !ok {
			return "", fmt.Errorf("agent did not emit a %s/%s block", resolvedFileBegin, resolvedFileEnd)
		}
		return resolved, nil
	}
}

const (
	resolvedFileBegin = "---RESOLVED-FILE-BEGIN---"
	resolvedFileEnd   = "---RESOLVED-FILE-END---"
)

func buildConflictPrompt(conflict core.FileConflict, task *core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve the git merge conflict in %s for task %s (%s).\n\n", conflict.FilePath, task.ID, task.Title)
	b.WriteString("Base version:\n```\n" + conflict.BaseContent + "\n```\n\n")
	b.WriteString("Ours:\n```\n" + conflict.OursContent + "\n```\n\n")
	b.WriteString("Theirs:\n```\n" + conflict.TheirsContent + "\n```\n\n")
	b.WriteString("Conflicted working copy:\n```\n" + conflict.ConflictMarkers + "\n```\n\n")
	fmt.Fprintf(&b, "Reply with the complete resolved file contents between %s and %s, nothing else outside those markers.\n", resolvedFileBegin, resolvedFileEnd)
	return b.String()
}

func extractResolvedFile(stdout string) (string, bool) {
	start := strings.Index(stdout, resolvedFileBegin)
	if start < 0 {
		return "", false
	}
	start += len(resolvedFileBegin)
	end := strings.Index(stdout[start:], resolvedFileEnd)
	if end < 0 {
		return "", false
	}
	return strings.Trim(stdout[start:start+end], "\n"), true
}
