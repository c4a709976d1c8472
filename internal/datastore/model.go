// model.go this code defines the data model for the application
package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Image represents one subject item that can be annotated. Binary image
// storage and delivery live elsewhere; this record only carries what the
// synchronization protocol needs: existence and visibility.
type Image struct {
	ID        uint `gorm:"primaryKey"`
	Visible   bool `gorm:"index"`
	CreatedAt time.Time
}

// Annotation represents one annotator's complete label set for one image.
type Annotation struct {
	ID          uint `gorm:"primaryKey"`
	AnnotatorID uint `gorm:"index:idx_annotations_annotator_image;not null"`
	ImageID     uint `gorm:"index:idx_annotations_annotator_image;not null"`
	// EditKey is the freshness token gating imports. It is rotated on
	// every export and compared byte-for-byte on commit.
	EditKey []byte `gorm:"type:blob"`
	// Locked annotations are visible but cannot be edited anymore.
	Locked bool
	// Finished means the annotator considers the label set complete
	// and wishes to have it reviewed.
	Finished bool
	// Deleted is a soft delete, terminal for this annotation.
	Deleted      bool `gorm:"index"`
	CreatedAt    time.Time
	LastEditTime time.Time

	Polygons []Polygon `gorm:"foreignKey:AnnotationID;constraint:OnDelete:CASCADE"`
}

// Polygon is one labeled region belonging to an annotation.
type Polygon struct {
	ID           uint `gorm:"primaryKey"`
	AnnotationID uint `gorm:"index;not null"`
	// AnnoIndex correlates polygons that have not yet been round-tripped
	// through an export: it is the document position assigned when the
	// polygon was first created from an import, and is cleared for the
	// whole annotation on every export. Null outside that window.
	AnnoIndex *int `gorm:"index"`
	// Label as free text. Non-empty for every live polygon.
	Label string `gorm:"type:varchar(255);not null"`
	// Notes is whatever additional text the annotator attached.
	Notes string `gorm:"type:text"`
	// Points is the flat outline: even offsets are x, odd are y. Values
	// are stored already rounded to 2 decimal places.
	Points PointList `gorm:"type:text"`
	// Occluded mirrors the annotator's occlusion checkbox.
	Occluded bool
	// Locked polygons cannot be edited by the annotator anymore.
	Locked bool
	// Deleted is a soft delete; the row stays for audit and history.
	Deleted      bool `gorm:"index"`
	CreatedAt    time.Time
	LastEditTime time.Time
}

// PointList stores a flat list of coordinates as a JSON array in a text
// column, keeping the schema identical across SQLite and MySQL.
type PointList []float64

// Value implements driver.Valuer.
func (p PointList) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]float64(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *PointList) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for PointList", value)
	}
	if len(data) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(data, (*[]float64)(p))
}
