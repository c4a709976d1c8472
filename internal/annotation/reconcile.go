package annotation

import (
	"slices"
	"time"

	"github.com/labelous/labelsync/internal/datastore"
)

// ReconcileResult is the set of staged polygon writes an import wants to
// make. Nothing here has touched the database yet; the consistency guard
// applies it all or none.
type ReconcileResult struct {
	// Changed holds polygons whose fields were updated, plus brand-new
	// polygons (ID zero) created for identity-less records.
	Changed []*datastore.Polygon
	// AnnotationChanged is true when at least one polygon changed, so
	// the annotation's last edit time needs a single refresh.
	AnnotationChanged bool
}

// reconcilePolicy captures the one deliberately configurable decision in
// the protocol: what to do with a submitted identity the server has no
// live record of when the client marks it deleted.
type reconcilePolicy struct {
	// StrictDeletedIdentity rejects such records instead of treating
	// them as already gone.
	StrictDeletedIdentity bool
}

// Reconcile matches every intermediate record to a stored polygon and
// computes the minimal diff to apply.
//
// Matching is by stable identity first and by document position only for
// records that have never received an identity. Position correlation
// relies on the tool's append-only behavior: new polygons go to the end
// of the document and existing ones never change relative order within
// one export cycle. A client violating that can misattribute edits among
// its own identity-less polygons, never anyone else's, because the
// position map only covers polygons created under the current edit key.
//
// The existing slice must be the pre-transaction set of non-deleted
// polygons, captured before any lock is taken; running against that
// snapshot keeps all map building and diffing outside the lock.
func Reconcile(anno *datastore.Annotation, existing []datastore.Polygon, records []IntermediateRecord, policy reconcilePolicy, now time.Time) (*ReconcileResult, error) {
	byID := make(map[uint]*datastore.Polygon, len(existing))
	byIndex := make(map[int]*datastore.Polygon)
	for i := range existing {
		poly := &existing[i]
		byID[poly.ID] = poly
		if poly.AnnoIndex != nil {
			byIndex[*poly.AnnoIndex] = poly
		}
	}

	result := &ReconcileResult{}
	for i := range records {
		rec := &records[i]

		var poly *datastore.Polygon
		created := false
		if rec.ID != nil {
			// Identity match always wins; the position is ignored
			// entirely for records that carry one.
			found, ok := byID[*rec.ID]
			if !ok {
				if rec.Deleted && !policy.StrictDeletedIdentity {
					// Already gone; deleted polygons are not loaded, so
					// a delete of a deleted polygon looks like this.
					continue
				}
				return nil, rejectf(ReasonMissingIdentity, "polygon %d was never assigned or is gone", *rec.ID)
			}
			poly = found
		} else {
			found, ok := byIndex[rec.Index]
			switch {
			case ok:
				// Created earlier within this same edit session; the
				// index was recorded when the polygon was first seen.
				poly = found
			case rec.Deleted:
				// Created and deleted without ever being persisted.
				continue
			default:
				index := rec.Index
				poly = &datastore.Polygon{
					AnnotationID: anno.ID,
					AnnoIndex:    &index,
					CreatedAt:    now,
				}
				created = true
			}
		}

		changed := created
		switch {
		case changed:
		case poly.Label != rec.Label:
			changed = true
		case poly.Notes != rec.Notes:
			changed = true
		case poly.Occluded != rec.Occluded:
			changed = true
		case !slices.Equal([]float64(poly.Points), rec.Points):
			changed = true
		case poly.Deleted != rec.Deleted:
			changed = true
		}

		if changed {
			poly.Label = rec.Label
			poly.Notes = rec.Notes
			poly.Occluded = rec.Occluded
			poly.Points = datastore.PointList(rec.Points)
			poly.Deleted = rec.Deleted
			poly.LastEditTime = now
			result.Changed = append(result.Changed, poly)
			result.AnnotationChanged = true
		}
	}
	return result, nil
}
