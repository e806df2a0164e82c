package telegram

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/meshwork/internal/jobs"
)

const helpText = `Send a message to ask the workspace assistant.
@Agent text asks one agent.
/command key=value ... runs a command, e.g. /create_agent name=Scout role=researcher prompt="find facts"
/jobs lists recent jobs, /pause and /resume control the queue.`

const recentJobs = 10

// chunkMessage splits a message into chunks that fit within Telegram's message size limit.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Try to split at a newline
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)

// toTelegramMarkdown rewrites **bold** into Telegram's *bold*.
func toTelegramMarkdown(s string) string {
	return boldRe.ReplaceAllString(s, "*$1*")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func jobLabel(j jobs.Job) string {
	if j.Type != "" {
		return j.Type
	}
	return fmt.Sprintf("%d steps", len(j.Steps))
}

func formatJobs(list []jobs.Job, paused bool) string {
	var b strings.Builder
	if paused {
		b.WriteString("**Queue paused**\n")
	}
	if len(list) == 0 {
		b.WriteString("No jobs.")
		return b.String()
	}
	start := max(0, len(list)-recentJobs)
	for _, j := range list[start:] {
		fmt.Fprintf(&b, "%s  %s  %s\n", shortID(j.ID), j.Status, jobLabel(j))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatResult(j jobs.Job) string {
	head := "**Done**"
	if j.Status == jobs.StatusFailed {
		head = "**Failed**"
	}
	out := fmt.Sprintf("%s %s (%s)", head, jobLabel(j), shortID(j.ID))
	if j.Result != "" {
		out += "\n" + j.Result
	}
	return out
}
