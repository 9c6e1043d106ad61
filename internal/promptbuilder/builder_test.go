package promptbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

func TestFromTask_MapsDependenciesAndMetadata(t *testing.T) {
	task := &core.Task{
		ID:           "T1",
		Title:        "Add caching",
		Dependencies: []core.TaskID{"T0"},
		Metadata: map[string]string{
			"description": "Add an LRU cache layer",
			"notes":       "watch for eviction bugs",
		},
	}
	epic := &core.Task{ID: "E1", Title: "Performance"}

	vars := FromTask(task, epic, nil, "recent note", "lowest priority open task")

	require.Equal(t, "T1", vars.TaskID)
	require.Equal(t, "Add caching", vars.TaskTitle)
	require.Equal(t, "Add an LRU cache layer", vars.TaskDescription)
	require.Equal(t, "T0", vars.DependsOn)
	require.Equal(t, "E1", vars.EpicID)
	require.Equal(t, "Performance", vars.EpicTitle)
	require.Equal(t, "recent note", vars.RecentProgress)
	require.Equal(t, "lowest priority open task", vars.SelectionReason)
}

func TestBuild_RejectsPromptOverMaxLength(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "x"}
	tmpl := "{{notes}}"
	vars := Vars{Notes: strings.Repeat("a", core.MaxPromptLength+1)}
	_ = vars // constructed for clarity of intent; Build derives vars from task itself

	task.Metadata = map[string]string{"notes": ""}
	_, err := Build(strings.Repeat("x", core.MaxPromptLength+1), task, nil, nil, "", "")
	require.Error(t, err)
}

func TestBuild_RejectsEmptyRenderedPrompt(t *testing.T) {
	task := &core.Task{ID: "T1", Title: ""}
	_, err := Build("{{taskTitle}}", task, nil, nil, "", "")
	require.Error(t, err)
}

func TestBuild_Success(t *testing.T) {
	task := &core.Task{ID: "T1", Title: "Add caching"}
	out, err := Build("Task: {{taskTitle}}", task, nil, nil, "", "")
	require.NoError(t, err)
	require.Equal(t, "Task: Add caching", out)
}
