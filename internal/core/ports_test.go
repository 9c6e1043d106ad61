package core

import "testing"

func TestAgentMeta_StructuredOutputFormats(t *testing.T) {
	if StructuredOutputNone != "none" {
		t.Errorf("expected 'none', got %s", StructuredOutputNone)
	}
	if StructuredOutputJSONL != "jsonl" {
		t.Errorf("expected 'jsonl', got %s", StructuredOutputJSONL)
	}
}

func TestAgentMeta_Fields(t *testing.T) {
	meta := AgentMeta{
		ID:                     "claude",
		Name:                   "Claude",
		DefaultCommand:         "claude",
		SupportsStreaming:      true,
		SupportsInterrupt:      true,
		StructuredOutputFormat: StructuredOutputJSONL,
	}

	if meta.ID != "claude" {
		t.Errorf("expected ID 'claude', got %s", meta.ID)
	}
	if !meta.SupportsStreaming {
		t.Error("expected SupportsStreaming to be true")
	}
	if meta.StructuredOutputFormat != StructuredOutputJSONL {
		t.Errorf("expected jsonl, got %s", meta.StructuredOutputFormat)
	}
}

func TestSandboxRequirements_Fields(t *testing.T) {
	req := SandboxRequirements{
		AuthPaths:       []string{"~/.config/claude"},
		BinaryPaths:     []string{"/usr/bin/claude"},
		RuntimePaths:    []string{"/tmp"},
		RequiresNetwork: true,
	}

	if len(req.AuthPaths) != 1 {
		t.Errorf("expected 1 auth path, got %d", len(req.AuthPaths))
	}
	if !req.RequiresNetwork {
		t.Error("expected RequiresNetwork to be true")
	}
}

func TestGitStatus_Fields(t *testing.T) {
	s := &GitStatus{
		Branch:       "main",
		Ahead:        2,
		Behind:       0,
		Staged:       []FileStatus{{Path: "a.go", Status: "M"}},
		HasConflicts: false,
	}

	if s.Branch != "main" {
		t.Errorf("expected branch 'main', got %s", s.Branch)
	}
	if len(s.Staged) != 1 || s.Staged[0].Status != "M" {
		t.Errorf("unexpected staged entries: %+v", s.Staged)
	}
}

func TestParallelSessionState_Fields(t *testing.T) {
	pss := &ParallelSessionState{
		SessionID:     "sess-1",
		FailedTaskIDs: []TaskID{"T2"},
	}

	if pss.SessionID != "sess-1" {
		t.Errorf("expected session id 'sess-1', got %s", pss.SessionID)
	}
	if len(pss.FailedTaskIDs) != 1 || pss.FailedTaskIDs[0] != "T2" {
		t.Errorf("unexpected failed task ids: %+v", pss.FailedTaskIDs)
	}
}

func TestCompleteTaskResult_Fields(t *testing.T) {
	r := &CompleteTaskResult{Success: true, Message: "done"}
	if !r.Success || r.Message != "done" {
		t.Errorf("unexpected result: %+v", r)
	}
}
