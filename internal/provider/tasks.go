package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
	"github.com/fyrsmithlabs/vizloop/internal/projectctx"
)

const (
	analyzeTemperature   = 0.4
	implementTemperature = 0.2
	judgeTemperature     = 0.0
)

// AnalyzeSnapshot asks the model for a scored improvement spec.
func (c *Client) AnalyzeSnapshot(ctx context.Context, in pipeline.AnalysisInput) (*pipeline.ImprovementSpec, error) {
	var sb strings.Builder
	sb.WriteString("Analyze the attached screenshot")
	sb.WriteString(fmt.Sprintf(" (%dx%d).\n\n", in.Snapshot.Width, in.Snapshot.Height))
	if in.ProjectContext != "" {
		sb.WriteString(in.ProjectContext)
		sb.WriteString("\n")
	}
	if in.ContextDigest != "" {
		sb.WriteString(in.ContextDigest)
		sb.WriteString("\n")
	}
	if len(in.AvoidedComponents) > 0 {
		sb.WriteString("Do not target these components: ")
		sb.WriteString(strings.Join(in.AvoidedComponents, ", "))
		sb.WriteString("\n")
	}

	resp, err := c.Complete(ctx, Request{
		System:      analyzeSystemPrompt,
		Prompt:      sb.String(),
		Images:      snapshotImages(&in.Snapshot),
		Temperature: analyzeTemperature,
	})
	if err != nil {
		return nil, err
	}

	var spec pipeline.ImprovementSpec
	if err := decodeJSON(resp.Text, &spec); err != nil {
		return nil, fmt.Errorf("analysis response: %w", err)
	}
	spec.Recommendations = changeset.SortByPriority(spec.Recommendations)
	return &spec, nil
}

type implementResponse struct {
	Summary string `json:"summary"`
	Changes []struct {
		Path    string         `json:"path"`
		Kind    changeset.Kind `json:"kind"`
		Content string         `json:"content"`
	} `json:"changes"`
}

// ImplementChanges asks the model to edit the project for the spec's
// recommendations. Files holding secrets are withheld from the prompt and
// may not be edited.
func (c *Client) ImplementChanges(ctx context.Context, spec *pipeline.ImprovementSpec, projectRoot string) (*changeset.ChangeSet, error) {
	if spec == nil || len(spec.Recommendations) == 0 {
		return nil, fmt.Errorf("no recommendations to implement")
	}

	pc, err := projectctx.Detect(projectRoot)
	if err != nil {
		return nil, err
	}
	matcher, err := c.ignore.Matcher(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}
	files, err := projectctx.CollectSources(projectRoot, pc.ComponentDirs, matcher, projectctx.DefaultSourceLimits)
	if err != nil {
		return nil, fmt.Errorf("collecting sources: %w", err)
	}

	shown := make(map[string]string, len(files))
	withheld := make(map[string]bool)
	var sb strings.Builder
	sb.WriteString(pc.Digest())
	sb.WriteString("\nAPPROVED RECOMMENDATIONS\n")
	recs, err := json.MarshalIndent(spec.Recommendations, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding recommendations: %w", err)
	}
	sb.Write(recs)
	sb.WriteString("\n\nPROJECT FILES\n")
	for _, f := range files {
		if c.scrubber.Contains(f.Content) {
			withheld[f.Path] = true
			continue
		}
		shown[f.Path] = f.Content
		sb.WriteString(fmt.Sprintf("--- %s ---\n%s\n", f.Path, f.Content))
	}
	if len(withheld) > 0 {
		c.logger.Warn("withholding files containing secrets", zap.Int("count", len(withheld)))
	}

	resp, err := c.Complete(ctx, Request{
		System:      implementSystemPrompt,
		Prompt:      sb.String(),
		Temperature: implementTemperature,
	})
	if err != nil {
		return nil, err
	}

	var out implementResponse
	if err := decodeJSON(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("implementation response: %w", err)
	}

	cs := &changeset.ChangeSet{Summary: out.Summary}
	for _, ch := range out.Changes {
		path := strings.TrimPrefix(ch.Path, "./")
		if withheld[path] {
			c.logger.Warn("dropping change to withheld file", zap.String("path", path))
			continue
		}
		kind := ch.Kind
		if kind == "" {
			kind = changeset.KindEdit
		}
		switch old, ok := shown[path]; {
		case kind == changeset.KindEdit && ok:
			cs.Changes = append(cs.Changes, changeset.NewEdit(path, old, ch.Content))
		case kind == changeset.KindDelete && ok:
			cs.Changes = append(cs.Changes, changeset.NewDelete(path, old))
		case kind == changeset.KindCreate:
			cs.Changes = append(cs.Changes, changeset.NewCreate(path, ch.Content))
		default:
			cs.Changes = append(cs.Changes, changeset.FileChange{Path: path, Kind: kind, NewContent: ch.Content})
		}
	}
	if err := cs.Validate(); err != nil {
		return nil, fmt.Errorf("implementation response: %w", err)
	}
	return cs, nil
}

type evaluateResponse struct {
	CompositeScore  *float64           `json:"composite_score"`
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Summary         string             `json:"summary"`
}

// Evaluate scores a snapshot.
func (c *Client) Evaluate(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.Evaluation, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is nil")
	}
	resp, err := c.Complete(ctx, Request{
		System:      evaluateSystemPrompt,
		Prompt:      "Score the attached screenshot.",
		Images:      snapshotImages(snap),
		Temperature: judgeTemperature,
	})
	if err != nil {
		return nil, err
	}

	var out evaluateResponse
	if err := decodeJSON(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("evaluation response: %w", err)
	}

	var score float64
	switch {
	case out.CompositeScore != nil:
		score = *out.CompositeScore
	case len(out.DimensionScores) > 0:
		for _, v := range out.DimensionScores {
			score += v
		}
		score /= float64(len(out.DimensionScores))
	default:
		return nil, fmt.Errorf("evaluation response has no score")
	}

	return &pipeline.Evaluation{
		CompositeScore:  score,
		DimensionScores: out.DimensionScores,
		VisionScore:     score,
		Confidence:      1,
		Summary:         out.Summary,
	}, nil
}

// Reflect judges whether a build-successful iteration should be kept.
func (c *Client) Reflect(ctx context.Context, ic pipeline.IterationContext) (*pipeline.Reflection, error) {
	payload, err := json.MarshalIndent(ic, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding iteration: %w", err)
	}
	resp, err := c.Complete(ctx, Request{
		System:      reflectSystemPrompt,
		Prompt:      "ITERATION\n" + string(payload),
		Temperature: judgeTemperature,
	})
	if err != nil {
		return nil, err
	}

	var out pipeline.Reflection
	if err := decodeJSON(resp.Text, &out); err != nil {
		return nil, fmt.Errorf("reflection response: %w", err)
	}
	return &out, nil
}

func snapshotImages(snap *pipeline.Snapshot) []Image {
	if snap == nil || len(snap.Data) == 0 {
		return nil
	}
	mt := snap.MediaType
	if mt == "" {
		mt = "image/png"
	}
	return []Image{{MediaType: mt, Data: snap.Data}}
}

// decodeJSON extracts the JSON object from a model reply. Models sometimes
// wrap it in a markdown fence or surround it with prose.
func decodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
