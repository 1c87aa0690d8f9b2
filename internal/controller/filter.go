package controller

import (
	"github.com/fyrsmithlabs/vizloop/internal/changeset"
	"github.com/fyrsmithlabs/vizloop/internal/memory"
)

// Drop reasons reported by filterRecommendations.
const (
	dropAttempted = "previously attempted"
	dropAvoided   = "targets avoided component"
	dropDuplicate = "duplicate in batch"
)

// droppedRecommendation is a recommendation the filter removed.
type droppedRecommendation struct {
	Recommendation changeset.Recommendation
	Reason         string
	Detail         string
}

// filterRecommendations removes recommendations that repeat an earlier
// attempt, repeat another candidate in the same batch or target a component
// memory says to avoid. Order is preserved.
func filterRecommendations(recs []changeset.Recommendation, st *memory.State, avoidThreshold int) ([]changeset.Recommendation, []droppedRecommendation) {
	avoided := st.AvoidedComponents(avoidThreshold)

	var kept []changeset.Recommendation
	var dropped []droppedRecommendation
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		key := rec.Key()
		if seen[key] {
			dropped = append(dropped, droppedRecommendation{
				Recommendation: rec,
				Reason:         dropDuplicate,
				Detail:         rec.Title,
			})
			continue
		}
		seen[key] = true
		if prior, ok := st.WasAttempted(rec); ok {
			dropped = append(dropped, droppedRecommendation{
				Recommendation: rec,
				Reason:         dropAttempted,
				Detail:         string(prior.Status),
			})
			continue
		}
		if path, ok := targetsAny(rec, avoided); ok {
			dropped = append(dropped, droppedRecommendation{
				Recommendation: rec,
				Reason:         dropAvoided,
				Detail:         path,
			})
			continue
		}
		kept = append(kept, rec)
	}
	return kept, dropped
}

func targetsAny(rec changeset.Recommendation, paths []string) (string, bool) {
	for _, p := range paths {
		if rec.Targets(p) {
			return p, true
		}
	}
	return "", false
}

// filesFor returns the paths in cs a recommendation is credited with. When
// no change can be attributed to it, every path in cs is used.
func filesFor(rec changeset.Recommendation, cs *changeset.ChangeSet) []string {
	if cs == nil {
		return nil
	}
	all := cs.Paths()
	var own []string
	for _, p := range all {
		if rec.Targets(p) {
			own = append(own, p)
		}
	}
	if len(own) == 0 {
		return all
	}
	return own
}
