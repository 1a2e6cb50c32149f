package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// DefaultMaxOrphanDeletes bounds how many revisions one cleanup pass removes.
const DefaultMaxOrphanDeletes = 25

// OrphanCleaner removes unused sub-resource revisions so that minting a new
// one stays under the provider quota.
type OrphanCleaner struct {
	logger     zerolog.Logger
	recorder   Recorder
	maxDeletes int
}

// NewOrphanCleaner creates a cleaner deleting at most maxDeletes revisions
// per pass.
func NewOrphanCleaner(logger zerolog.Logger, recorder Recorder, maxDeletes int) *OrphanCleaner {
	if maxDeletes <= 0 {
		maxDeletes = DefaultMaxOrphanDeletes
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &OrphanCleaner{logger: logger, recorder: recorder, maxDeletes: maxDeletes}
}

// Candidates returns the revisions that may be deleted: inactive, not
// associated with any resource, and not the one in use. Oldest first.
func Candidates(revisions []Revision, inUse string) []Revision {
	out := make([]Revision, 0, len(revisions))
	for _, r := range revisions {
		if r.Active || r.Associated {
			continue
		}
		if inUse != "" && r.ID == inUse {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Clean deletes orphaned revisions for the subject and returns how many were
// removed. Failures are logged and skipped: cleanup never fails the
// reconciliation it precedes.
func (c *OrphanCleaner) Clean(ctx context.Context, subject Subject, rm RevisionManager, current *ObservedResource) int {
	prefix := subject.Filter.String() + ": "

	revisions, err := rm.Revisions(ctx, subject.Filter)
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", subject.Kind).Msg(prefix + "listing revisions failed, skipping cleanup")
		return 0
	}

	inUse := ""
	if current != nil {
		inUse = rm.InUseRevision(current)
	}

	deleted := 0
	for _, r := range Candidates(revisions, inUse) {
		if deleted >= c.maxDeletes {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if err := rm.DeleteRevision(ctx, r.ID); err != nil && !IsNotFound(err) {
			c.logger.Warn().Err(err).
				Str("kind", subject.Kind).
				Str("revision", r.ID).
				Msg(prefix + "deleting orphaned revision failed")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		c.logger.Info().Str("kind", subject.Kind).Int("deleted", deleted).
			Msg(prefix + "deleted orphaned revisions")
		c.recorder.RecordOrphansDeleted(subject.Kind, deleted)
	}
	return deleted
}
