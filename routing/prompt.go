package routing

import "strings"

// taskInstructions maps each task type to the analysis the backend should
// perform. Every prompt demands a bare JSON object so the invoker's schema
// validation has something structural to hold on to.
var taskInstructions = map[TaskType]string{
	TaskQuickClassification: "Classify the overall sentiment of the text as positive, negative, or neutral.",
	TaskDeepAnalysis:        "Analyze the text's sentiment in depth, weighing sarcasm, intensifiers, and mixed signals.",
	TaskCulturalAnalysis:    "Analyze the text's sentiment with attention to cultural context, idioms, and regional expressions.",
	TaskGeneric:             "Analyze the overall sentiment of the text.",
}

// buildSystemPrompt composes the system prompt for one invocation: the task
// instruction, the strict output contract, and the backend's configured
// suffix when present.
func buildSystemPrompt(tctx TaskContext, suffix string) string {
	instruction, ok := taskInstructions[tctx.TaskType]
	if !ok {
		instruction = taskInstructions[TaskGeneric]
	}

	var sb strings.Builder
	sb.WriteString("You analyze Arabic-language text, including dialectal and informal writing. ")
	sb.WriteString(instruction)
	sb.WriteString("\n\nRespond with exactly one JSON object and nothing else:\n")
	sb.WriteString(`{"label": "<positive|negative|neutral>", "score": <number in [-1,1]>, "confidence": <number in [0,1]>}`)

	suffix = strings.TrimSpace(suffix)
	if suffix != "" {
		sb.WriteString("\n\n")
		sb.WriteString(suffix)
	}

	return sb.String()
}
