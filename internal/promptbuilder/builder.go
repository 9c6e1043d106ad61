package promptbuilder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// FromTask maps a Task plus optional PRD context and recent progress
// text into the Vars a template expects.
func FromTask(task *core.Task, epic *core.Task, prd *core.PrdContext, recentProgress, selectionReason string) Vars {
	v := Vars{
		TaskID: string(task.ID),
		TaskTitle: task.Title,
		Notes: task.Metadata["notes"],
		RecentProgress: recentProgress,
		SelectionReason: selectionReason,
	}
	if desc, ok := task.Metadata["description"]; ok {
		v.TaskDescription = desc
	}
	if ac, ok := task.Metadata["acceptanceCriteria"]; ok {
		v.AcceptanceCriteria = ac
	}
	if patterns, ok := task.Metadata["codebasePatterns"]; ok {
		v.CodebasePatterns = patterns
	}
	if len(task.Dependencies) > 0 {
		ids := make([]string, len(task.Dependencies))
		for i, d := range task.Dependencies {
			ids[i] = string(d)
		}
		v.DependsOn = strings.Join(ids, ", ")
	}
	if epic != nil {
		v.EpicID = string(epic.ID)
		v.EpicTitle = epic.Title
	}
	if prd != nil {
		v.PrdName = prd.Name
		v.PrdDescription = prd.Description
		v.PrdContent = prd.Content
		v.PrdCompletedCount = strconv.Itoa(prd.CompletedCount)
		v.PrdTotalCount = strconv.Itoa(prd.TotalCount)
	}
	return v
}

// Build renders tmpl against task using FromTask, returning an error if
// the rendered prompt exceeds the configured maximum length.
func Build(tmpl string, task *core.Task, epic *core.Task, prd *core.PrdContext, recentProgress, selectionReason string) (string, error) {
	vars := FromTask(task, epic, prd, recentProgress, selectionReason)
	rendered := Render(tmpl, vars)
	if len(rendered) == 0 {
		return "", core.ErrPermanent(core.CodeInvalidConfig, "rendered prompt is empty")
	}
	if len(rendered) > core.MaxPromptLength {
		return "", core.ErrPermanent(core.CodeInvalidConfig, fmt.Sprintf("rendered prompt length %d exceeds maximum %d", len(rendered), core.MaxPromptLength))
	}
	return rendered, nil
}
