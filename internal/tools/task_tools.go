package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// TaskTools builds the standard task tool set over the given store.
//
// Reads are non-mutating. complete_task is mutating but auto-confirmable
// (reversible by unchecking). delete_task is destructive and never
// auto-confirms.
func TaskTools(s store.Store) []Tool {
	return []Tool{
		{
			Name:        "list_tasks",
			Description: "List the user's tasks, optionally filtered by completion state or quadrant.",
			InputSchema: objectSchema(map[string]interface{}{
				"completed": map[string]interface{}{"type": "boolean"},
				"quadrant":  map[string]interface{}{"type": "string"},
				"limit":     map[string]interface{}{"type": "integer"},
			}, nil),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				filter := store.TaskFilter{
					Quadrant: models.Quadrant(strArg(args, "quadrant")),
					Limit:    intArg(args, "limit"),
				}
				if v, ok := args["completed"].(bool); ok {
					filter.Completed = &v
				}
				tasks, err := s.ListTasks(ctx, userID, filter)
				if err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Found %d tasks", len(tasks)),
					Payload: map[string]interface{}{"tasks": tasks},
				}, nil
			},
		},
		{
			Name:        "search_tasks",
			Description: "Search tasks by a free-text query over title and description.",
			InputSchema: objectSchema(map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			}, []string{"query"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				query := strArg(args, "query")
				if query == "" {
					return nil, fmt.Errorf("search_tasks: query is required")
				}
				tasks, err := s.ListTasks(ctx, userID, store.TaskFilter{Query: query})
				if err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Found %d tasks matching %q", len(tasks), query),
					Payload: map[string]interface{}{"tasks": tasks},
				}, nil
			},
		},
		{
			Name:        "get_task",
			Description: "Fetch a single task by id.",
			InputSchema: objectSchema(map[string]interface{}{
				"task_id": map[string]interface{}{"type": "string"},
			}, []string{"task_id"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				task, err := s.GetTask(ctx, userID, strArg(args, "task_id"))
				if err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Task %q", task.Title),
					Payload: map[string]interface{}{"task": task},
				}, nil
			},
		},
		{
			Name:        "create_task",
			Description: "Create a new task.",
			Mutating:    true,
			AutoConfirm: true,
			InputSchema: objectSchema(map[string]interface{}{
				"title":       map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"priority":    map[string]interface{}{"type": "integer"},
				"tags":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"quadrant":    map[string]interface{}{"type": "string"},
				"start_date":  map[string]interface{}{"type": "string", "format": "date-time"},
			}, []string{"title"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				title := strArg(args, "title")
				if title == "" {
					return nil, fmt.Errorf("create_task: title is required")
				}
				now := time.Now().UTC()
				task := &models.Task{
					ID:             uuid.NewString(),
					UserID:         userID,
					Title:          title,
					Description:    strArg(args, "description"),
					Priority:       intArg(args, "priority"),
					Tags:           strSliceArg(args, "tags"),
					Quadrant:       models.Quadrant(strArg(args, "quadrant")),
					Unsorted:       strArg(args, "quadrant") == "",
					LastModifiedAt: now,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if d := dateArg(args, "start_date"); d != nil {
					task.StartDate = d
				}
				if err := s.CreateTask(ctx, task); err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Created task %q", task.Title),
					Payload: map[string]interface{}{"task": task},
				}, nil
			},
		},
		{
			Name:        "update_task",
			Description: "Update fields of an existing task.",
			Mutating:    true,
			InputSchema: objectSchema(map[string]interface{}{
				"task_id":     map[string]interface{}{"type": "string"},
				"title":       map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"priority":    map[string]interface{}{"type": "integer"},
				"tags":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"quadrant":    map[string]interface{}{"type": "string"},
				"start_date":  map[string]interface{}{"type": "string", "format": "date-time"},
			}, []string{"task_id"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				task, err := s.GetTask(ctx, userID, strArg(args, "task_id"))
				if err != nil {
					return nil, err
				}
				if v, ok := args["title"].(string); ok && v != "" {
					task.Title = v
				}
				if v, ok := args["description"].(string); ok {
					task.Description = v
				}
				if _, ok := args["priority"]; ok {
					task.Priority = intArg(args, "priority")
				}
				if _, ok := args["tags"]; ok {
					task.Tags = strSliceArg(args, "tags")
				}
				if v, ok := args["quadrant"].(string); ok && v != "" {
					task.Quadrant = models.Quadrant(v)
					task.Unsorted = false
				}
				if d := dateArg(args, "start_date"); d != nil {
					task.StartDate = d
				}
				task.LastModifiedAt = time.Now().UTC()
				task.SyncVersion++
				if err := s.UpdateTask(ctx, task); err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Updated task %q", task.Title),
					Payload: map[string]interface{}{"task": task},
				}, nil
			},
		},
		{
			Name:        "complete_task",
			Description: "Mark a task as complete.",
			Mutating:    true,
			AutoConfirm: true,
			InputSchema: objectSchema(map[string]interface{}{
				"task_id": map[string]interface{}{"type": "string"},
			}, []string{"task_id"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				task, err := s.GetTask(ctx, userID, strArg(args, "task_id"))
				if err != nil {
					return nil, err
				}
				task.Completed = true
				task.LastModifiedAt = time.Now().UTC()
				task.SyncVersion++
				if err := s.UpdateTask(ctx, task); err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Completed task %q", task.Title),
					Payload: map[string]interface{}{"task": task},
				}, nil
			},
		},
		{
			Name:        "delete_task",
			Description: "Permanently delete a task.",
			Mutating:    true,
			// Deletion is irreversible: never auto-confirm.
			InputSchema: objectSchema(map[string]interface{}{
				"task_id": map[string]interface{}{"type": "string"},
			}, []string{"task_id"}),
			Execute: func(ctx context.Context, userID string, args map[string]interface{}) (*models.ToolResult, error) {
				id := strArg(args, "task_id")
				if err := s.DeleteTask(ctx, userID, id); err != nil {
					return nil, err
				}
				return &models.ToolResult{
					Summary: fmt.Sprintf("Deleted task %s", id),
				}, nil
			},
		},
	}
}

// ── Argument helpers ─────────────────────────────────────────

func objectSchema(props map[string]interface{}, required []string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg tolerates both JSON numbers (float64) and native ints.
func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func strSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		if typed, ok := args[key].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dateArg(args map[string]interface{}, key string) *time.Time {
	s := strArg(args, key)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
