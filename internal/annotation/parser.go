package annotation

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/xml"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/errors"
)

// IntermediateRecord is one validated polygon element, tagged with its
// recomputed document position and the identity it claims, if any.
type IntermediateRecord struct {
	// ID is the claimed stable identity; nil for polygons the server
	// has never assigned one (created by the tool since the last export).
	ID *uint
	// Index is the zero-based position of this element in the document,
	// recomputed from pure order of appearance, never trusted from the
	// client.
	Index    int
	Label    string
	Deleted  bool
	Occluded bool
	Notes    string
	Points   []float64
}

// ParsedImport is the outcome of a successful parse: the target
// annotation, the edit key the client holds and the validated records.
type ParsedImport struct {
	Annotation datastore.Annotation
	EditKey    []byte
	Records    []IntermediateRecord
}

// Parser turns an untrusted document into a ParsedImport, or rejects it
// wholesale. The caller enforces the request body size cap before the
// bytes ever reach here.
type Parser struct {
	store    datastore.Interface
	subjects SubjectResolver
}

// NewParser creates a Parser.
func NewParser(store datastore.Interface, subjects SubjectResolver) *Parser {
	return &Parser{store: store, subjects: subjects}
}

// Parse validates an inbound document for the given caller. Every check
// failing rejects the entire request; there is no partial result. The
// edit key comparison here is the fast path that short-circuits
// reconciliation work; the authoritative comparison happens again under
// lock at commit time.
func (p *Parser) Parse(annotatorID uint, body []byte) (*ParsedImport, error) {
	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}

	if doc.XMLName.Local != rootTag {
		return nil, rejectf(ReasonUnknownSubject, "root element %q is not an annotation", doc.XMLName.Local)
	}
	imageID, err := parseSubjectFilename(doc.Filename)
	if err != nil {
		return nil, reject(ReasonUnknownSubject, err)
	}
	subject, err := p.subjects.Lookup(imageID)
	if err != nil {
		return nil, err
	}
	if !subject.Exists || !subject.Visible {
		return nil, rejectf(ReasonUnknownSubject, "image %d does not exist or is not visible", imageID)
	}

	anno, err := p.store.GetEditableAnnotation(annotatorID, imageID)
	if err != nil {
		if errors.Is(err, datastore.ErrRecordNotFound) {
			return nil, rejectf(ReasonUnknownEntity, "no editable annotation for annotator %d on image %d", annotatorID, imageID)
		}
		return nil, err
	}
	claimedID, err := strconv.ParseUint(strings.TrimSpace(doc.AnnotationID), 10, 32)
	if err != nil || uint(claimedID) != anno.ID {
		return nil, rejectf(ReasonUnknownEntity, "document annotation id %q does not match %d", doc.AnnotationID, anno.ID)
	}

	editKey, err := hex.DecodeString(strings.TrimSpace(doc.EditKey))
	if err != nil || len(editKey) == 0 {
		return nil, rejectf(ReasonStaleToken, "undecodable edit key")
	}
	if subtle.ConstantTimeCompare(editKey, anno.EditKey) != 1 {
		return nil, rejectf(ReasonStaleToken, "edit key does not match")
	}

	records, err := parseObjects(doc.Objects)
	if err != nil {
		return nil, err
	}

	return &ParsedImport{Annotation: anno, EditKey: editKey, Records: records}, nil
}

// parseObjects validates each polygon element in document order,
// assigning sequential positions as it goes.
func parseObjects(objects []DocObject) ([]IntermediateRecord, error) {
	records := make([]IntermediateRecord, 0, len(objects))
	seen := make(map[uint]struct{})
	for i := range objects {
		obj := &objects[i]
		rec := IntermediateRecord{Index: i}

		if obj.PolygonID != nil {
			id, err := strconv.ParseUint(strings.TrimSpace(*obj.PolygonID), 10, 32)
			if err != nil {
				return nil, rejectf(ReasonInvalidField, "object %d: bad polygon id %q", i, *obj.PolygonID)
			}
			if _, dup := seen[uint(id)]; dup {
				return nil, rejectf(ReasonDuplicateIdentity, "object %d: polygon id %d claimed twice", i, id)
			}
			seen[uint(id)] = struct{}{}
			parsed := uint(id)
			rec.ID = &parsed
		}

		if obj.Name == "" {
			return nil, rejectf(ReasonInvalidField, "object %d: empty name", i)
		}
		rec.Label = obj.Name

		switch strings.TrimSpace(obj.Deleted) {
		case "0":
			rec.Deleted = false
		case "1":
			rec.Deleted = true
		default:
			return nil, rejectf(ReasonInvalidField, "object %d: bad deleted flag %q", i, obj.Deleted)
		}

		switch obj.Occluded {
		case "no":
			rec.Occluded = false
		case "yes":
			rec.Occluded = true
		default:
			return nil, rejectf(ReasonInvalidField, "object %d: bad occluded flag %q", i, obj.Occluded)
		}

		rec.Notes = obj.Attributes

		points, err := parsePoints(obj.Polygon.Points)
		if err != nil {
			return nil, rejectf(ReasonInvalidField, "object %d: %v", i, err)
		}
		rec.Points = points

		records = append(records, rec)
	}
	return records, nil
}

// parsePoints converts the coordinate pairs, re-rounding every value to
// 2 decimal places so client-submitted precision is canonicalized: the
// number may not have changed but would otherwise compare unequal to
// what the database holds.
func parsePoints(points []DocPoint) ([]float64, error) {
	out := make([]float64, 0, len(points)*2)
	for _, pt := range points {
		x, err := parseCoord(pt.X)
		if err != nil {
			return nil, err
		}
		y, err := parseCoord(pt.Y)
		if err != nil {
			return nil, err
		}
		out = append(out, x, y)
	}
	return out, nil
}

func parseCoord(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return round2(v), nil
}

// decodeDocument performs the hardened structural parse. Document type
// declarations are refused outright, which covers entity-expansion
// attacks, and only the five predefined XML entities are accepted. The
// decoder never fetches external resources.
func decodeDocument(data []byte) (*Document, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	decoder.Entity = map[string]string{}

	for {
		token, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return nil, rejectf(ReasonMalformedDocument, "document has no root element")
			}
			return nil, reject(ReasonMalformedDocument, err)
		}
		switch t := token.(type) {
		case xml.Directive:
			return nil, rejectf(ReasonMalformedDocument, "document type declarations are not allowed")
		case xml.ProcInst:
			if t.Target != "xml" {
				return nil, rejectf(ReasonMalformedDocument, "processing instruction %q is not allowed", t.Target)
			}
		case xml.StartElement:
			var doc Document
			if err := decoder.DecodeElement(&doc, &t); err != nil {
				return nil, reject(ReasonMalformedDocument, err)
			}
			return &doc, nil
		}
	}
}
