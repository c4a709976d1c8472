package annotation

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// The export and import paths share one document schema. The annotation
// tool does not rebuild the document on edit, it only modifies it, so
// server-chosen tags (prefixed c_) come back untouched and any foreign
// tags the tool adds are ignored by the decoder rather than interpreted.

const (
	rootTag       = "annotation"
	subjectPrefix = "img"
	subjectSuffix = ".jpg"

	// toolUsername is what the polygon element claims as its author; the
	// tool requires one but the server tracks ownership per annotation.
	toolUsername = "hi"
)

// Document is the root of an annotation file.
type Document struct {
	XMLName      xml.Name
	AnnotationID string      `xml:"c_anno_id"`
	EditKey      string      `xml:"edit_key"`
	Filename     string      `xml:"filename"`
	Folder       string      `xml:"folder"`
	Objects      []DocObject `xml:"object"`
}

// DocObject is one polygon element within a document.
type DocObject struct {
	PolygonID  *string    `xml:"c_poly_id,omitempty"`
	Name       string     `xml:"name"`
	Deleted    string     `xml:"deleted"`
	Verified   string     `xml:"verified"`
	Occluded   string     `xml:"occluded"`
	Attributes string     `xml:"attributes"`
	Polygon    DocPolygon `xml:"polygon"`
}

// DocPolygon wraps the ordered coordinate list.
type DocPolygon struct {
	Username string     `xml:"username"`
	Points   []DocPoint `xml:"pt"`
}

// DocPoint is a single coordinate pair, both values carried as text
// formatted with exactly two decimal digits.
type DocPoint struct {
	X string `xml:"x"`
	Y string `xml:"y"`
}

// subjectFilename renders the filename-style subject reference. Images
// are looked up by ID, so the folder is a constant placeholder.
func subjectFilename(imageID uint) string {
	return fmt.Sprintf("%s%d%s", subjectPrefix, imageID, subjectSuffix)
}

// parseSubjectFilename recovers the image ID from a filename reference.
func parseSubjectFilename(filename string) (uint, error) {
	if !strings.HasPrefix(filename, subjectPrefix) || !strings.HasSuffix(filename, subjectSuffix) {
		return 0, fmt.Errorf("invalid filename %q", filename)
	}
	idText := filename[len(subjectPrefix) : len(filename)-len(subjectSuffix)]
	id, err := strconv.ParseUint(idText, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid filename %q: %w", filename, err)
	}
	return uint(id), nil
}

// formatCoord renders a coordinate with exactly 2 decimal digits, the
// canonical wire form for every numeric value in the document.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// formatID renders a database identity for the wire.
func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// round2 canonicalizes a coordinate to 2 decimal places by taking the
// round trip through the wire format. Formatting then re-parsing keeps
// the result exactly equal to what a re-export would produce, so equality
// comparisons against stored values are exact and repeated round trips
// are stable.
func round2(v float64) float64 {
	rounded, _ := strconv.ParseFloat(formatCoord(v), 64)
	return rounded
}
