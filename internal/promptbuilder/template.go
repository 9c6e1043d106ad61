// Package promptbuilder renders the agent prompt template against one
// task's context. It implements a deliberately small
// directive subset — variable substitution, conditional blocks, and
// comments — rather than a general templating language, since the
// recognized variable set is fixed and known ahead of time.
package promptbuilder

import (
	"regexp"
	"strings"
)

// Vars holds every recognized template variable for one rendering pass.
// Empty string means "not supplied"; {{#if}} blocks treat it as falsy.
type Vars struct {
	TaskID string
	TaskTitle string
	TaskDescription string
	AcceptanceCriteria string
	Labels string
	DependsOn string
	Blocks string
	EpicID string
	EpicTitle string
	Notes string
	RecentProgress string
	CodebasePatterns string
	PrdName string
	PrdDescription string
	PrdContent string
	PrdCompletedCount string
	PrdTotalCount string
	SelectionReason string
}

// asMap exposes Vars as a lookup table the substitution pass walks.
func (v Vars) asMap() map[string]string {
	return map[string]string{
		"taskId": v.TaskID,
		"taskTitle": v.TaskTitle,
		"taskDescription": v.TaskDescription,
		"acceptanceCriteria": v.AcceptanceCriteria,
		"labels": v.Labels,
		"dependsOn": v.DependsOn,
		"blocks": v.Blocks,
		"epicId": v.EpicID,
		"epicTitle": v.EpicTitle,
		"notes": v.Notes,
		"recentProgress": v.RecentProgress,
		"codebasePatterns": v.CodebasePatterns,
		"prdName": v.PrdName,
		"prdDescription": v.PrdDescription,
		"prdContent": v.PrdContent,
		"prdCompletedCount": v.PrdCompletedCount,
		"prdTotalCount": v.PrdTotalCount,
		"selectionReason": v.SelectionReason,
	}
}

var (
	commentRe = regexp.MustCompile(`\{\{!--.*?--\}\}`)
	ifRe = regexp.MustCompile(`(?s)\{\{#if (\w+)\}\}(.*?)\{\{/if\}\}`)
	varRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
)

// Render expands template against vars: strips comments, resolves
// {{#if var}}...{{/if}} blocks (kept only when var is non-empty, and
// never recursed into further — nesting isn't part of the recognized
// directive set), then substitutes {{var}} tokens. An unrecognized
// variable name is left as a literal empty string, matching the
// documented variable list being the only one honored.
func Render(tmpl string, vars Vars) string {
	values := vars.asMap()

	out := commentRe.ReplaceAllString(tmpl, "")

	out = ifRe.ReplaceAllStringFunc(out, func(match string) string {
		parts := ifRe.FindStringSubmatch(match)
		name, body := parts[1], parts[2]
		if strings.TrimSpace(values[name]) == "" {
			return ""
		}
		return body
	})

	out = varRe.ReplaceAllStringFunc(out, func(match string) string {
		parts := varRe.FindStringSubmatch(match)
		return values[parts[1]]
	})

	return out
}
