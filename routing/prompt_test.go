package routing

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptPerTask(t *testing.T) {
	tasks := []TaskType{TaskQuickClassification, TaskDeepAnalysis, TaskCulturalAnalysis, TaskGeneric}

	seen := make(map[string]TaskType)
	for _, task := range tasks {
		prompt := buildSystemPrompt(TaskContext{TaskType: task}, "")
		if !strings.Contains(prompt, `"label"`) || !strings.Contains(prompt, `"score"`) {
			t.Errorf("%s prompt missing the output contract", task)
		}
		if prev, dup := seen[prompt]; dup {
			t.Errorf("tasks %s and %s produced identical prompts", prev, task)
		}
		seen[prompt] = task
	}
}

func TestBuildSystemPromptUnknownTaskFallsBack(t *testing.T) {
	got := buildSystemPrompt(TaskContext{TaskType: TaskType("mystery")}, "")
	want := buildSystemPrompt(TaskContext{TaskType: TaskGeneric}, "")
	if got != want {
		t.Error("unknown task type should use the generic instruction")
	}
}

func TestBuildSystemPromptAppendsSuffix(t *testing.T) {
	suffix := "ركز على اللهجة المصرية"
	prompt := buildSystemPrompt(TaskContext{TaskType: TaskCulturalAnalysis}, "  "+suffix+"\n")

	if !strings.HasSuffix(prompt, suffix) {
		t.Errorf("prompt does not end with the trimmed suffix:\n%s", prompt)
	}
}

func TestBuildSystemPromptEmptySuffix(t *testing.T) {
	prompt := buildSystemPrompt(TaskContext{TaskType: TaskGeneric}, "   ")
	if strings.TrimSpace(prompt) != prompt {
		t.Error("blank suffix left trailing whitespace on the prompt")
	}
}
