package tools

import (
	"context"
	"testing"

	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/pkg/models"
)

func testRegistry(s store.Store) *Registry {
	return NewRegistry(TaskTools(s)...)
}

func execute(t *testing.T, r *Registry, name, userID string, args map[string]interface{}) *models.ToolResult {
	t.Helper()
	tool, ok := r.Get(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	result, err := tool.Execute(context.Background(), userID, args)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return result
}

func TestRegistryDefinitions(t *testing.T) {
	r := testRegistry(store.NewMemoryStore())

	defs := r.Definitions()
	if len(defs) != 7 {
		t.Fatalf("expected 7 tool definitions, got %d", len(defs))
	}
	for _, d := range defs {
		if d.Name == "" || d.InputSchema == nil {
			t.Errorf("incomplete definition %+v", d)
		}
	}
}

func TestCreateTaskTool(t *testing.T) {
	s := store.NewMemoryStore()
	r := testRegistry(s)

	result := execute(t, r, "create_task", "u1", map[string]interface{}{
		"title":    "Buy milk",
		"priority": float64(3), // JSON numbers arrive as float64
		"tags":     []interface{}{"errand"},
	})
	if result.Summary == "" || result.Payload["task"] == nil {
		t.Fatalf("unexpected result %+v", result)
	}

	tasks, _ := s.ListTasks(context.Background(), "u1", store.TaskFilter{})
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Priority != 3 || len(task.Tags) != 1 {
		t.Errorf("args not applied: %+v", task)
	}
	if !task.Unsorted {
		t.Error("task without a quadrant must start unsorted")
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	r := testRegistry(store.NewMemoryStore())
	tool, _ := r.Get("create_task")
	if _, err := tool.Execute(context.Background(), "u1", nil); err == nil {
		t.Fatal("expected error without title")
	}
}

func TestUpdateTaskTool(t *testing.T) {
	s := store.NewMemoryStore()
	r := testRegistry(s)
	s.CreateTask(context.Background(), &models.Task{ID: "t1", UserID: "u1", Title: "Old", Unsorted: true})

	execute(t, r, "update_task", "u1", map[string]interface{}{
		"task_id":  "t1",
		"title":    "New",
		"quadrant": "urgent_important",
	})

	task, _ := s.GetTask(context.Background(), "u1", "t1")
	if task.Title != "New" {
		t.Errorf("title not updated: %q", task.Title)
	}
	if task.Unsorted {
		t.Error("setting a quadrant must clear the unsorted flag")
	}
	if task.SyncVersion != 1 {
		t.Errorf("expected sync version bump, got %d", task.SyncVersion)
	}
}

func TestCompleteAndDeleteTools(t *testing.T) {
	s := store.NewMemoryStore()
	r := testRegistry(s)
	s.CreateTask(context.Background(), &models.Task{ID: "t1", UserID: "u1", Title: "Old"})

	execute(t, r, "complete_task", "u1", map[string]interface{}{"task_id": "t1"})
	task, _ := s.GetTask(context.Background(), "u1", "t1")
	if !task.Completed {
		t.Error("task not completed")
	}

	execute(t, r, "delete_task", "u1", map[string]interface{}{"task_id": "t1"})
	if _, err := s.GetTask(context.Background(), "u1", "t1"); err == nil {
		t.Error("task not deleted")
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	r := testRegistry(store.NewMemoryStore())
	tool, _ := r.Get("search_tasks")
	if _, err := tool.Execute(context.Background(), "u1", nil); err == nil {
		t.Fatal("expected error without query")
	}
}

func TestMutationFlags(t *testing.T) {
	r := testRegistry(store.NewMemoryStore())

	cases := []struct {
		name        string
		mutating    bool
		autoConfirm bool
	}{
		{"list_tasks", false, false},
		{"search_tasks", false, false},
		{"get_task", false, false},
		{"create_task", true, true},
		{"update_task", true, false},
		{"complete_task", true, true},
		{"delete_task", true, false},
	}
	for _, tc := range cases {
		tool, ok := r.Get(tc.name)
		if !ok {
			t.Fatalf("tool %s not registered", tc.name)
		}
		if tool.Mutating != tc.mutating || tool.AutoConfirm != tc.autoConfirm {
			t.Errorf("%s: mutating=%v autoConfirm=%v, want %v/%v",
				tc.name, tool.Mutating, tool.AutoConfirm, tc.mutating, tc.autoConfirm)
		}
	}
}
