package annotation

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"log/slog"

	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/errors"
)

// editKeyBytes is the size of the freshness token rotated on every
// export. 16 random bytes is unguessable for the lifetime of a session.
const editKeyBytes = 16

// Exporter builds the outbound full-state document for an annotation.
type Exporter struct {
	store    datastore.Interface
	subjects SubjectResolver
	log      *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(store datastore.Interface, subjects SubjectResolver, log *slog.Logger) *Exporter {
	return &Exporter{store: store, subjects: subjects, log: log}
}

// Export produces the annotation document for (annotator, image), or
// ErrNotFound when no visible subject or live annotation matches.
//
// Exporting is side-effecting: it rotates the edit key, immediately
// invalidating any outstanding session holding the old one, and clears
// the document-position index from every live polygon. The two writes
// are not atomic with each other. A concurrent export may interleave,
// but a submission carrying a superseded key is rejected at commit time
// regardless of index state, so the commit path carries the whole
// correctness burden and the export path stays lock-free.
func (e *Exporter) Export(annotatorID, imageID uint) ([]byte, error) {
	subject, err := e.subjects.Lookup(imageID)
	if err != nil {
		return nil, err
	}
	if !subject.Exists || !subject.Visible {
		return nil, ErrNotFound
	}

	anno, err := e.store.GetAnnotation(annotatorID, imageID)
	if err != nil {
		if errors.Is(err, datastore.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	editKey := make([]byte, editKeyBytes)
	if _, err := rand.Read(editKey); err != nil {
		return nil, err
	}
	if err := e.store.UpdateEditKey(anno.ID, editKey); err != nil {
		return nil, err
	}
	if err := e.store.ClearPolygonIndices(anno.ID); err != nil {
		return nil, err
	}

	polygons, err := e.store.ActivePolygons(anno.ID)
	if err != nil {
		return nil, err
	}

	doc := buildDocument(&anno, editKey, imageID, polygons)
	data, err := xml.Marshal(doc)
	if err != nil {
		return nil, err
	}

	e.log.Debug("annotation exported",
		"annotation_id", anno.ID,
		"annotator_id", annotatorID,
		"image_id", imageID,
		"polygons", len(polygons))
	return data, nil
}

// buildDocument assembles the wire document from stored state. Deleted
// polygons are never included, so the deleted marker is always "0"; the
// verified flag is derived from lock state and is informational only.
func buildDocument(anno *datastore.Annotation, editKey []byte, imageID uint, polygons []datastore.Polygon) *Document {
	doc := &Document{
		XMLName:      xml.Name{Local: rootTag},
		AnnotationID: formatID(anno.ID),
		EditKey:      hex.EncodeToString(editKey),
		Filename:     subjectFilename(imageID),
		Folder:       "f",
	}
	for i := range polygons {
		poly := &polygons[i]
		id := formatID(poly.ID)
		obj := DocObject{
			PolygonID:  &id,
			Name:       poly.Label,
			Deleted:    "0",
			Verified:   boolDigit(poly.Locked || anno.Locked),
			Occluded:   yesNo(poly.Occluded),
			Attributes: poly.Notes,
			Polygon:    DocPolygon{Username: toolUsername},
		}
		for pi := 0; pi+1 < len(poly.Points); pi += 2 {
			obj.Polygon.Points = append(obj.Polygon.Points, DocPoint{
				X: formatCoord(poly.Points[pi]),
				Y: formatCoord(poly.Points[pi+1]),
			})
		}
		doc.Objects = append(doc.Objects, obj)
	}
	return doc
}

