package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// stageFileStem maps a stage's (id, name) to the hyphenated filename stem
// prompts are loaded from: {promptsDir}/stage-{id}-{hyphenated-name}.md.
func stageFileStem(id int, name string) string {
	return "stage-" + strconv.Itoa(id) + "-" + strings.ReplaceAll(name, "_", "-")
}

// placeholders substituted into a loaded (or fallback) system prompt before
// it is sent to the model. Unknown placeholders in the prompt text are left
// untouched.
type placeholders map[string]string

func (p placeholders) apply(prompt string) string {
	for k, v := range p {
		prompt = strings.ReplaceAll(prompt, "{{"+k+"}}", v)
	}
	return prompt
}

// loadPrompt returns the system prompt for a stage: the contents of
// {promptsDir}/stage-{id}-{hyphenated-name}.md if present (memoized per
// file path for the process lifetime), else the built-in fallback, with placeholders
// substituted either way.
func (r *Runner) loadPrompt(id int, name string, ph placeholders) string {
	raw := r.rawPrompt(id, name)
	return ph.apply(raw)
}

func (r *Runner) rawPrompt(id int, name string) string {
	if r.promptsDir == "" {
		return fallbackPrompt(name)
	}

	path := filepath.Join(r.promptsDir, stageFileStem(id, name)+".md")

	r.promptMu.Lock()
	defer r.promptMu.Unlock()
	if cached, ok := r.promptCache[path]; ok {
		return cached
	}

	data, err := os.ReadFile(path)
	var content string
	if err != nil {
		content = fallbackPrompt(name)
	} else {
		content = string(data)
	}
	r.promptCache[path] = content
	return content
}

func fallbackPrompt(name string) string {
	if p, ok := fallbackPrompts[name]; ok {
		return p
	}
	return fmt.Sprintf("You are the %s stage of a deterministic research pipeline. Respond with a single JSON object only.", name)
}

var fallbackPrompts = map[string]string{
	NameAnalyzeQuery: `You are the query-analysis stage of a research pipeline. Given the user's question, decompose it into a small set of focused sub-queries, list the assumptions you are making, name the primary standards or sources you expect to consult, and flag anything that needs clarification.

Respond with a single JSON object: {"clarity_percentage": number, "assumptions": [string], "queries": [string], "primary_standards": [string], "clarifying_questions": [string], "alternative_interpretations": [string]}.`,

	NameWebsearchCalibration: `You are the web-search-calibration stage of a research pipeline. You are given a set of web search results gathered for the planned sub-queries. Analyze them and produce a refined research plan.

Respond with a single JSON object: {"refined_plan": string, "authority_sources": {"search_queries": [string]}, "web_sources": [{"url": string, "title": string, "insight": string}], "web_research_context": string}.`,

	NameSynthesize: `You are the synthesis stage of a research pipeline. Using only the provided context, write a complete, well-organized answer to the user's question as markdown with "## " section headings. Cite supporting material inline and close with a "> **Sources**" blockquote.

Respond with a single JSON object: {"synthesis": string, "citations": [{"paragraphId": string, "claim": string}]}.`,
}
