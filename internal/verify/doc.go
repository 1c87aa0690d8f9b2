// Package verify applies change sets to a project tree, runs the build check
// that gates every applied change, and restores the previous file contents
// when a change has to be undone.
//
// The three steps are separate types so the controller can apply, verify and
// roll back in its own order:
//
//	applied, err := applier.Apply(ctx, cs)
//	res, err := verifier.Verify(ctx, applied)
//	if !res.BuildSucceeded {
//	    rollbacker.Rollback(ctx, applied)
//	}
//
// Rollback always works from the ChangeSet returned by Apply, which carries a
// content snapshot for every file that existed before the change.
package verify
