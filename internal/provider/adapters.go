package provider

import (
	"context"

	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
)

// Collaborators are the pipeline roles one Capability can fill.
type Collaborators struct {
	Analyzer    pipeline.Analyzer
	Implementer pipeline.Implementer
	Evaluator   pipeline.Evaluator
	Reflector   pipeline.Reflector
}

// Bind adapts c to every pipeline role.
func Bind(c Capability) Collaborators {
	return Collaborators{
		Analyzer:    analyzer{c},
		Implementer: implementer{c},
		Evaluator:   evaluator{c},
		Reflector:   reflector{c},
	}
}

type analyzer struct{ c Capability }

func (a analyzer) Analyze(ctx context.Context, in pipeline.AnalysisInput) (*pipeline.ImprovementSpec, error) {
	return a.c.AnalyzeSnapshot(ctx, in)
}

type implementer struct{ c Capability }

func (i implementer) Implement(ctx context.Context, spec *pipeline.ImprovementSpec, projectRoot string) (*changeset.ChangeSet, error) {
	return i.c.ImplementChanges(ctx, spec, projectRoot)
}

type evaluator struct{ c Capability }

func (e evaluator) Evaluate(ctx context.Context, snap *pipeline.Snapshot) (*pipeline.Evaluation, error) {
	return e.c.Evaluate(ctx, snap)
}

type reflector struct{ c Capability }

func (r reflector) Reflect(ctx context.Context, ic pipeline.IterationContext) (*pipeline.Reflection, error) {
	return r.c.Reflect(ctx, ic)
}
