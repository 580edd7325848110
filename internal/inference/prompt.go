// File: internal/inference/prompt.go
package inference

import (
	"fmt"
	"strings"

	"github.com/averell-dev/deskrover/api/schemas"
)

// systemPrompt pins the model to the action vocabulary. The wire contract is
// one JSON object per reply, nothing else.
const systemPrompt = `You are a desktop automation operator. You see a screenshot of the current screen and must decide the single next action that advances the user's task.

Reply with EXACTLY ONE JSON object and no other text:
{"action": "<kind>", "params": {...}}

Action kinds and their params:
- "click":        {"x": <int>, "y": <int>, "button": "left"|"right"|"middle"}
- "double_click": {"x": <int>, "y": <int>}
- "type_text":    {"text": "<string>"}  (target must already have focus)
- "press_key":    {"key": "<key name, e.g. enter, tab, esc>"}
- "hotkey":       {"keys": ["ctrl", "s"]}  (modifiers first, main key last)
- "launch":       {"app": "<application name>"}
- "wait":         {"duration_ms": <int>}  (UI still settling)
- "done":         {"result": "<what was accomplished>"}  (task complete)
- "fail":         {"reason": "<why>"}  (task impossible, stop trying)

Rules:
- Coordinates are pixels in the screenshot, origin top-left.
- One action per reply. Never repeat an action that already failed twice.
- Use "done" the moment the task is visibly complete.`

// correctionPrompt is the single re-prompt issued after a malformed reply.
const correctionPrompt = `Your previous reply could not be parsed as a valid action. Reply again with exactly one JSON object in the documented format and absolutely no surrounding text, markdown, or explanation.`

// judgePrompt drives model-backed verification of a before/after frame pair.
const judgePrompt = `You see two screenshots: BEFORE and AFTER an action was performed. The action was: %s

Did the screen change in a way consistent with that action having taken effect? Reply with exactly one JSON object:
{"changed": true|false}`

// buildUserPrompt renders the task framing that accompanies the screenshot.
func buildUserPrompt(instruction string, history []schemas.Step) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(instruction)
	b.WriteString("\n\n")

	if len(history) == 0 {
		b.WriteString("No actions taken yet. The screenshot shows the current screen.")
	} else {
		b.WriteString("Actions taken so far (oldest first):\n")
		b.WriteString(renderHistory(history))
		b.WriteString("\nThe screenshot shows the screen after the last action.")
	}

	b.WriteString("\nDecide the next action.")
	return b.String()
}

// renderHistory formats steps as one compact line each so the context stays
// small regardless of how chatty the run was.
func renderHistory(history []schemas.Step) string {
	var b strings.Builder
	for _, step := range history {
		fmt.Fprintf(&b, "%d. %s", step.Number, step.Action.String())
		switch {
		case step.Error != "":
			fmt.Fprintf(&b, " -> FAILED: %s", step.Error)
		case !step.Result.Success:
			fmt.Fprintf(&b, " -> FAILED: %s", step.Result.Error)
		case !step.Verified:
			b.WriteString(" -> ok, but no screen change was observed")
		default:
			b.WriteString(" -> ok")
		}
		b.WriteString("\n")
	}
	return b.String()
}
