package orchestrator

import "strings"

// taskTypeKeywords scores content against known task types. Order matters
// for tie-breaking: earlier types win equal scores.
var taskTypeKeywords = []struct {
	taskType string
	keywords []string
}{
	{"research", []string{"research", "investigate", "explore", "study", "find out", "look into"}},
	{"analysis", []string{"analyze", "analysis", "compare", "evaluate", "assess", "examine"}},
	{"writing", []string{"write", "draft", "compose", "essay", "article", "blog", "report"}},
	{"coding", []string{"code", "implement", "program", "debug", "function", "script", "api"}},
	{"translation", []string{"translate", "translation"}},
	{"search", []string{"search", "lookup", "find"}},
	{"summary", []string{"summarize", "summary", "tl;dr", "condense"}},
	{"verification", []string{"verify", "validate", "check", "confirm", "fact-check"}},
}

// ClassifyTaskType picks the task type whose keywords score highest in the
// content, falling back to "general" when nothing matches.
func ClassifyTaskType(content string) string {
	lower := strings.ToLower(content)
	best := "general"
	bestScore := 0
	for _, entry := range taskTypeKeywords {
		score := 0
		for _, kw := range entry.keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			bestScore = score
			best = entry.taskType
		}
	}
	return best
}
