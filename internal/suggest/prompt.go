package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// buildPrompt assembles the structured-output analysis prompt: the task
// itself plus contextual signals about the user's current workload.
func (m *Manager) buildPrompt(ctx context.Context, task *models.Task) (string, error) {
	open := false
	workload, err := m.store.ListTasks(ctx, task.UserID, store.TaskFilter{Completed: &open, Limit: 50})
	if err != nil {
		return "", fmt.Errorf("load workload: %w", err)
	}

	unsorted := 0
	sameQuadrant := 0
	for _, t := range workload {
		if t.Unsorted {
			unsorted++
		}
		if task.Quadrant != "" && t.Quadrant == task.Quadrant && t.ID != task.ID {
			sameQuadrant++
		}
	}

	taskJSON, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze this task and propose improvements to its metadata.\n\n")
	b.WriteString("Task:\n")
	b.Write(taskJSON)
	b.WriteString(fmt.Sprintf("\n\nContext: the user has %d open tasks, %d of them unsorted", len(workload), unsorted))
	if task.Quadrant != "" {
		b.WriteString(fmt.Sprintf(", %d sharing this task's quadrant", sameQuadrant))
	}
	b.WriteString(fmt.Sprintf(". Today is %s.\n\n", time.Now().UTC().Format("2006-01-02")))
	b.WriteString(`Respond with a single JSON object, no surrounding text:
{
  "analysis": "<one-paragraph assessment>",
  "suggestions": [
    {
      "type": "priority" | "tags" | "quadrant" | "start_date",
      "current": <current value>,
      "suggested": <proposed value>,
      "reason": "<why>",
      "confidence": <0..1>
    }
  ]
}
Value types: priority is an integer 0-5, tags is a list of strings, quadrant
is one of urgent_important, important_not_urgent, urgent_not_important,
not_urgent_not_important, start_date is an ISO 8601 date. Suggest only
fields worth changing.`)
	return b.String(), nil
}
