package stage

import (
	"context"

	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/ctxbuild"
	"github.com/kadirpekel/resagent/pkg/jsonextract"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/postprocess"
)

const (
	defaultSynthesizeTokens = 16000
	defaultRetrievalBudget  = 70000
)

// runSynthesize is stage 3: the single max-effort model call that produces
// the research answer. Context is assembled from every prior stage's
// output plus optional repair feedback and follow-up context; the model's
// synthesis text is then deterministically post-processed so every web
// source and prior section is guaranteed a marker and an inline label
// regardless of model compliance.
func (r *Runner) runSynthesize(ctx context.Context, req Request) (pipeline.StageResult, error) {
	stageCtx := ctxbuild.StageContext{
		QueryPlan:            queryPlanText(req.State),
		StageOutputs:         priorNamedOutputs(req.State),
		RetrievalParagraphs:  retrievalParagraphs(req.State),
		RetrievalTokenBudget: desiredTokens(req.AgentConfig, "retrieval", defaultRetrievalBudget),
		RepairFeedback:       req.RepairFeedback,
		WebSources:           webSourcesText(req.State),
		WebResearchContext:   extractWebResearchContext(req.State),
	}
	if req.HasFollowUp {
		stageCtx.PriorAnswer = req.FollowUp.PriorAnswer
		stageCtx.PriorSections = priorSectionsText(req.FollowUp.PriorSections)
	}

	userMessage := ctxbuild.BuildStageContext(stageCtx)
	systemPrompt := r.loadPrompt(req.Stage.ID, NameSynthesize, nil)
	desired := desiredTokens(req.AgentConfig, NameSynthesize, defaultSynthesizeTokens)

	estimatedInput := ctxbuild.EstimateTokens(systemPrompt) + ctxbuild.EstimateTokens(userMessage)
	maxTokens, err := r.budget.CalculateMaxTokens(estimatedInput, desired)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	r.emit(ProgressEvent{Kind: ProgressLLMStart, Stage: req.Stage.ID, Label: NameSynthesize})
	callResult, err := r.caller.Call(ctx, llmclient.CallParams{
		SystemPrompt:     systemPrompt,
		UserMessage:      userMessage,
		DesiredMaxTokens: maxTokens,
		Effort:           effortOf(req.AgentConfig),
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	r.emit(ProgressEvent{Kind: ProgressLLMComplete, Stage: req.Stage.ID, Label: NameSynthesize})

	obj, ok := jsonextract.Extract(callResult.Text)
	if !ok {
		return pipeline.StageResult{
			Text:    callResult.Text,
			Summary: summarize(callResult.Text),
			Usage:   pipeline.Usage{InputTokens: callResult.InputTokens, OutputTokens: callResult.OutputTokens},
			Data:    map[string]any{"rawText": callResult.Text},
		}, nil
	}

	synthesis := jsonextract.GetString(obj, "synthesis")
	if synthesis == "" {
		synthesis = callResult.Text
	}

	webSources := webSourceList(req.State)
	var priorSections []postprocess.PriorSection
	if req.HasFollowUp {
		priorSections = req.FollowUp.PriorSections
	}

	processed := postprocess.Process(synthesis, webSources, priorSections)

	data := map[string]any{
		"synthesis": processed,
		"citations": jsonextract.GetSlice(obj, "citations"),
	}

	return pipeline.StageResult{
		Text:    processed,
		Summary: summarize(processed),
		Usage:   pipeline.Usage{InputTokens: callResult.InputTokens, OutputTokens: callResult.OutputTokens},
		Data:    data,
	}, nil
}

func queryPlanText(state pipeline.State) string {
	out, ok := state.GetStageOutput(0)
	if !ok {
		return ""
	}
	return out.Text
}

func priorNamedOutputs(state pipeline.State) []ctxbuild.NamedOutput {
	var outs []ctxbuild.NamedOutput
	names := map[int]string{0: "ANALYZE_QUERY", 1: "WEBSEARCH_CALIBRATION"}
	for idx, name := range names {
		if out, ok := state.GetStageOutput(idx); ok && out.Text != "" {
			outs = append(outs, ctxbuild.NamedOutput{StageName: name, Text: out.Text})
		}
	}
	return outs
}

func retrievalParagraphs(state pipeline.State) []bridge.RetrievalParagraph {
	out, ok := state.GetStageOutput(2)
	if !ok {
		return nil
	}
	return paragraphsFromData(out.Data)
}

// webSourceList extracts stage 1's web sources into the canonical shape
// the post-processor consumes, tolerating both the structured
// {"web_sources": [{"url","title","insight"}]} shape and the legacy
// camelCase "webSources" alias.
func webSourceList(state pipeline.State) []postprocess.WebSource {
	out, ok := state.GetStageOutput(1)
	if !ok || out.Data == nil {
		return nil
	}

	raw, ok := out.Data["web_sources"].([]any)
	if !ok {
		raw, ok = out.Data["webSources"].([]any)
		if !ok {
			return nil
		}
	}

	sources := make([]postprocess.WebSource, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := obj["url"].(string)
		if url == "" {
			continue
		}
		insight, _ := obj["insight"].(string)
		if insight == "" {
			insight, _ = obj["title"].(string)
		}
		sources = append(sources, postprocess.WebSource{URL: url, Insight: insight})
	}
	return sources
}

// webSourcesText renders stage 1's web sources as plain text for the
// synthesis context's WEB_SOURCES section.
func webSourcesText(state pipeline.State) string {
	sources := webSourceList(state)
	if len(sources) == 0 {
		return ""
	}
	var text string
	for _, s := range sources {
		text += "- " + s.URL + ": " + s.Insight + "\n"
	}
	return text
}

// extractWebResearchContext pulls stage 1's narrative summary, tolerating
// the structured "web_research_context" key and the legacy camelCase
// alias; falling back to the raw "refined_plan" string when neither is
// present.
func extractWebResearchContext(state pipeline.State) string {
	out, ok := state.GetStageOutput(1)
	if !ok || out.Data == nil {
		return ""
	}
	if s, ok := out.Data["web_research_context"].(string); ok && s != "" {
		return s
	}
	if s, ok := out.Data["webResearchContext"].(string); ok && s != "" {
		return s
	}
	if s, ok := out.Data["refined_plan"].(string); ok && s != "" {
		return s
	}
	return ""
}

func priorSectionsText(sections []postprocess.PriorSection) string {
	var text string
	for _, s := range sections {
		text += "## " + s.Heading + "\n" + s.Excerpt + "\n\n"
	}
	return text
}
