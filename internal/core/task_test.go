package core

import "testing"

func TestTaskStatus_IsValid(t *testing.T) {
	t.Parallel()
	valid := []TaskStatus{TaskStatusOpen, TaskStatusInProgress, TaskStatusCompleted, TaskStatusBlocked, TaskStatusCancelled}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if TaskStatus("bogus").IsValid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusOpen, false},
		{TaskStatusInProgress, false},
		{TaskStatusBlocked, false},
		{TaskStatusCompleted, true},
		{TaskStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestTaskFilter_Matches(t *testing.T) {
	t.Parallel()
	task := &Task{ID: "t1", Status: TaskStatusOpen, ParentID: "epic1"}

	if !(TaskFilter{}).Matches(task) {
		t.Error("empty filter should match any task")
	}
	if !(TaskFilter{Statuses: []TaskStatus{TaskStatusOpen}}).Matches(task) {
		t.Error("status filter should match")
	}
	if (TaskFilter{Statuses: []TaskStatus{TaskStatusCompleted}}).Matches(task) {
		t.Error("status filter should not match a different status")
	}
	if !(TaskFilter{ParentID: "epic1"}).Matches(task) {
		t.Error("parent filter should match")
	}
	if (TaskFilter{ParentID: "epic2"}).Matches(task) {
		t.Error("parent filter should not match a different parent")
	}
}

func TestTask_IsReady(t *testing.T) {
	t.Parallel()
	task := &Task{ID: "t1", Status: TaskStatusOpen, Dependencies: []TaskID{"t0", "t2"}}

	completed := map[TaskID]bool{"t0": true}
	if task.IsReady(completed) {
		t.Fatal("expected task not ready with missing dependency")
	}

	completed["t2"] = true
	if !task.IsReady(completed) {
		t.Fatal("expected task ready when all dependencies are complete")
	}
}

func TestSelectNext(t *testing.T) {
	t.Parallel()

	if got := SelectNext(nil); got != nil {
		t.Fatalf("expected nil for empty slice, got %+v", got)
	}

	a := &Task{ID: "b", Priority: 1}
	b := &Task{ID: "a", Priority: 1}
	c := &Task{ID: "z", Priority: 0}

	got := SelectNext([]*Task{a, b, c})
	if got != c {
		t.Fatalf("expected lowest priority task c, got %+v", got)
	}

	got = SelectNext([]*Task{a, b})
	if got != b {
		t.Fatalf("expected lexicographically-first id on priority tie, got %+v", got)
	}
}
