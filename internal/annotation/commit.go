package annotation

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/labelous/labelsync/internal/datastore"
)

// Importer runs the inbound half of the protocol: parse, reconcile,
// then commit under the entity-scoped lock.
type Importer struct {
	store  datastore.Interface
	parser *Parser
	policy reconcilePolicy
	log    *slog.Logger
}

// NewImporter creates an Importer. strictDeletedIdentity selects the
// policy for deletes of identities the server has no live record of:
// false treats them as no-ops, true rejects the whole import.
func NewImporter(store datastore.Interface, subjects SubjectResolver, strictDeletedIdentity bool, log *slog.Logger) *Importer {
	return &Importer{
		store:  store,
		parser: NewParser(store, subjects),
		policy: reconcilePolicy{StrictDeletedIdentity: strictDeletedIdentity},
		log:    log,
	}
}

// Import ingests one untrusted document for the given caller. It either
// applies every staged change atomically or applies nothing and returns
// an error; a *RejectionError means the document was refused and the
// client has to re-export to recover.
//
// The expensive work, lookup-map construction and diffing, runs against
// a snapshot read outside any lock. Only the final re-check-and-apply
// executes inside the transaction, and the edit key is compared again
// there: the parser's comparison is an optimization, this one is the
// authoritative gate. The key is never rotated on commit, so a
// successful import does not invalidate the session that sent it; only
// the next export does.
func (im *Importer) Import(annotatorID uint, body []byte) error {
	start := time.Now()

	parsed, err := im.parser.Parse(annotatorID, body)
	if err != nil {
		return err
	}

	existing, err := im.store.ActivePolygons(parsed.Annotation.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := Reconcile(&parsed.Annotation, existing, parsed.Records, im.policy, now)
	if err != nil {
		return err
	}

	err = im.store.CommitUnderLock(parsed.Annotation.ID, func(tx datastore.Tx, current *datastore.Annotation) error {
		if subtle.ConstantTimeCompare(parsed.EditKey, current.EditKey) != 1 {
			return rejectf(ReasonStaleToken, "edit key rotated before commit")
		}
		for _, poly := range result.Changed {
			if err := tx.SavePolygon(poly); err != nil {
				return err
			}
		}
		if result.AnnotationChanged {
			if err := tx.TouchAnnotation(current.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	im.log.Info("annotation import applied",
		"annotation_id", parsed.Annotation.ID,
		"annotator_id", annotatorID,
		"records", len(parsed.Records),
		"changed", len(result.Changed),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
