// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/errors"
)

// ErrRecordNotFound mirrors gorm's sentinel so callers don't need to
// import gorm to test for missing rows.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// ErrAnnotationExists is returned when creating an annotation would
// violate the one-live-annotation-per-(annotator,image) rule.
var ErrAnnotationExists = errors.Newf("a live annotation already exists for this annotator and image").
	Component("datastore").
	Category(errors.CategoryConflict).
	Build()

// Interface abstracts the underlying database implementation and defines
// the operations the synchronization protocol needs.
type Interface interface {
	Open() error
	Close() error

	// Subject items
	GetImage(id uint) (Image, error)
	SaveImage(image *Image) error

	// Annotations
	GetAnnotation(annotatorID, imageID uint) (Annotation, error)
	GetEditableAnnotation(annotatorID, imageID uint) (Annotation, error)
	CreateAnnotation(annotation *Annotation) error
	DeleteAnnotation(id, annotatorID uint) error
	SetAnnotationFinished(id, annotatorID uint, finished bool) error

	// Export side effects
	UpdateEditKey(annotationID uint, key []byte) error
	ClearPolygonIndices(annotationID uint) error

	// Polygons
	ActivePolygons(annotationID uint) ([]Polygon, error)

	// Guarded commit
	CommitUnderLock(annotationID uint, fn func(tx Tx, current *Annotation) error) error
}

// Tx is the narrow write surface handed to a CommitUnderLock callback.
// Everything done through it happens inside the surrounding transaction
// and is rolled back wholesale if the callback returns an error.
type Tx interface {
	SavePolygon(polygon *Polygon) error
	TouchAnnotation(annotationID uint, at time.Time) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// GetImage retrieves a subject image by its ID.
func (ds *DataStore) GetImage(id uint) (Image, error) {
	var image Image
	if err := ds.DB.First(&image, id).Error; err != nil {
		return Image{}, err
	}
	return image, nil
}

// SaveImage creates or updates a subject image record.
func (ds *DataStore) SaveImage(image *Image) error {
	if err := ds.DB.Save(image).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_image").
			Build()
	}
	return nil
}

// GetAnnotation retrieves the live annotation an annotator has for an
// image, locked or not. Exactly zero or one such row exists at any time.
func (ds *DataStore) GetAnnotation(annotatorID, imageID uint) (Annotation, error) {
	var annotation Annotation
	err := ds.DB.
		Where("annotator_id = ? AND image_id = ? AND deleted = ?", annotatorID, imageID, false).
		First(&annotation).Error
	if err != nil {
		return Annotation{}, err
	}
	return annotation, nil
}

// GetEditableAnnotation is GetAnnotation restricted to unlocked rows;
// the import path uses it because locked annotations reject edits.
func (ds *DataStore) GetEditableAnnotation(annotatorID, imageID uint) (Annotation, error) {
	var annotation Annotation
	err := ds.DB.
		Where("annotator_id = ? AND image_id = ? AND locked = ? AND deleted = ?",
			annotatorID, imageID, false, false).
		First(&annotation).Error
	if err != nil {
		return Annotation{}, err
	}
	return annotation, nil
}

// CreateAnnotation inserts a new annotation, enforcing that at most one
// non-deleted annotation exists per (annotator, image) pair.
func (ds *DataStore) CreateAnnotation(annotation *Annotation) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Annotation{}).
			Where("annotator_id = ? AND image_id = ? AND deleted = ?",
				annotation.AnnotatorID, annotation.ImageID, false).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAnnotationExists
		}
		return tx.Create(annotation).Error
	})
}

// DeleteAnnotation soft-deletes an annotation owned by the annotator.
// The row and its polygons stay in place for history.
func (ds *DataStore) DeleteAnnotation(id, annotatorID uint) error {
	result := ds.DB.Model(&Annotation{}).
		Where("id = ? AND annotator_id = ? AND deleted = ?", id, annotatorID, false).
		Update("deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SetAnnotationFinished flips the finished flag on an annotation owned
// by the annotator.
func (ds *DataStore) SetAnnotationFinished(id, annotatorID uint, finished bool) error {
	result := ds.DB.Model(&Annotation{}).
		Where("id = ? AND annotator_id = ? AND deleted = ?", id, annotatorID, false).
		Update("finished", finished)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateEditKey overwrites the annotation's freshness token. Deliberately
// not transactional with ClearPolygonIndices; the commit path re-checks
// the key under lock, which is what actually guarantees consistency.
func (ds *DataStore) UpdateEditKey(annotationID uint, key []byte) error {
	return ds.DB.Model(&Annotation{}).
		Where("id = ?", annotationID).
		Update("edit_key", key).Error
}

// ClearPolygonIndices nulls the document-position index on every live
// polygon of the annotation, so only indices from the most recent export
// can ever be observed by reconciliation.
func (ds *DataStore) ClearPolygonIndices(annotationID uint) error {
	return ds.DB.Model(&Polygon{}).
		Where("annotation_id = ? AND deleted = ? AND anno_index IS NOT NULL", annotationID, false).
		Update("anno_index", nil).Error
}

// ActivePolygons returns the non-deleted polygons of an annotation in
// stable server order.
func (ds *DataStore) ActivePolygons(annotationID uint) ([]Polygon, error) {
	var polygons []Polygon
	err := ds.DB.
		Where("annotation_id = ? AND deleted = ?", annotationID, false).
		Order("id ASC").
		Find(&polygons).Error
	if err != nil {
		return nil, err
	}
	return polygons, nil
}

// gormTx adapts a transaction-scoped gorm handle to the Tx interface.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) SavePolygon(polygon *Polygon) error {
	return t.db.Save(polygon).Error
}

func (t *gormTx) TouchAnnotation(annotationID uint, at time.Time) error {
	return t.db.Model(&Annotation{}).
		Where("id = ?", annotationID).
		Update("last_edit_time", at).Error
}

// CommitUnderLock opens a transaction, re-reads the annotation with an
// exclusive row lock where the backend supports one, and runs fn with a
// transaction-scoped write handle. Any error from fn rolls back every
// write made through the handle.
func (ds *DataStore) CommitUnderLock(annotationID uint, fn func(tx Tx, current *Annotation) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		query := tx
		// SQLite has no SELECT ... FOR UPDATE; its write transactions
		// are serialized at the connection level, which gives the same
		// exclusion for our per-annotation commit scope.
		if tx.Dialector.Name() == "mysql" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var current Annotation
		if err := query.First(&current, annotationID).Error; err != nil {
			return err
		}
		return fn(&gormTx{db: tx}, &current)
	})
}
