package config

// DefaultConfigTOML is the configuration template written by the `init`
// path and merged under operator overrides and environment variables on
// every load. Model names are neutral placeholders rather than any
// vendor's specific version string.
const DefaultConfigTOML = `# ralph-tui configuration
# Values not set here fall back to built-in defaults.

[log]
level = "info"
format = "auto"

[engine]
max_iterations = 0
max_retries = 3
retry_delay = "5s"
error_policy = "retry"
agent_exec_timeout = "0s"
tracker_op_timeout = "30s"
git_op_timeout = "60s"
interrupt_grace = "5s"

[rate_limit]
max_retries = 1
backoff_ceiling = "2m"
fallback_agents = []
recovery_probe_interval = "1m"

[agents.default]
enabled = true
path = "default"
model = "default"
idle_timeout = "15m"

[agents.fast]
enabled = false
path = "fast"
model = "fast"
idle_timeout = "15m"

[agents.reasoning]
enabled = false
path = "reasoning"
model = "reasoning"
idle_timeout = "15m"

[git]
worktree_dir = ".ralph-tui/worktrees"
max_worktrees = 4
min_free_disk_mb = 512
auto_clean = true

[parallel]
max_workers = 4
direct_merge = false
post_merge_validate_cmd = ""
max_requeue_count = 1

[state]
path = ""
lock_ttl = "1h"

[tracker]
# name identifies this tracker in session.json; command is the external
# CLI ralph-tui speaks its JSON-line protocol with.
name = ""
command = ""
timeout = "30s"

[prompt]
# template_file overrides the built-in prompt template; leave empty to
# use the default.
template_file = ""
`

// DefaultPromptTemplate is the built-in task prompt template used when
// [prompt].template_file is unset, following the small {{#if}}/{{var}}
// directive subset implemented by internal/promptbuilder.
const DefaultPromptTemplate = `You are working through an autonomous task queue. Complete exactly one task, then stop.

## Task {{taskId}}: {{taskTitle}}

{{#if taskDescription}}
{{taskDescription}}
{{/if}}
{{#if acceptanceCriteria}}
### Acceptance criteria
{{acceptanceCriteria}}
{{/if}}
{{#if dependsOn}}
Depends on: {{dependsOn}}
{{/if}}
{{#if blocks}}
Blocks: {{blocks}}
{{/if}}
{{#if epicTitle}}
Part of epic {{epicId}}: {{epicTitle}}
{{/if}}
{{#if prdName}}
### PRD context: {{prdName}}
{{prdDescription}}
{{#if prdContent}}
{{prdContent}}
{{/if}}
Progress: {{prdCompletedCount}}/{{prdTotalCount}} tasks complete.
{{/if}}
{{#if codebasePatterns}}
### Codebase patterns
{{codebasePatterns}}
{{/if}}
{{#if recentProgress}}
### Recent progress
{{recentProgress}}
{{/if}}
{{#if notes}}
### Notes
{{notes}}
{{/if}}
{{#if selectionReason}}
(selected because: {{selectionReason}})
{{/if}}

When the task is fully done, print exactly:
<promise>COMPLETE</promise>
`
