package datastore

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/errors"
)

// createDatabase initializes a temporary database for testing purposes.
func createDatabase(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	dataStore := New(settings)
	require.NoError(t, dataStore.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, dataStore.Close(), "Failed to close datastore")
	})
	return dataStore
}

func seedAnnotation(t *testing.T, store Interface, annotatorID, imageID uint) *Annotation {
	t.Helper()
	require.NoError(t, store.SaveImage(&Image{ID: imageID, Visible: true}))
	anno := &Annotation{
		AnnotatorID:  annotatorID,
		ImageID:      imageID,
		CreatedAt:    time.Now().UTC(),
		LastEditTime: time.Now().UTC(),
	}
	require.NoError(t, store.CreateAnnotation(anno))
	return anno
}

func TestCreateAnnotationEnforcesOneLivePerPair(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	dup := &Annotation{AnnotatorID: 7, ImageID: 1}
	err := store.CreateAnnotation(dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnnotationExists))

	// A different image or annotator is fine.
	require.NoError(t, store.SaveImage(&Image{ID: 2, Visible: true}))
	require.NoError(t, store.CreateAnnotation(&Annotation{AnnotatorID: 7, ImageID: 2}))
	require.NoError(t, store.CreateAnnotation(&Annotation{AnnotatorID: 8, ImageID: 1}))

	// Soft-deleting the live annotation frees the pair again.
	require.NoError(t, store.DeleteAnnotation(anno.ID, 7))
	require.NoError(t, store.CreateAnnotation(&Annotation{AnnotatorID: 7, ImageID: 1}))
}

func TestDeleteAnnotationRequiresOwner(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	err := store.DeleteAnnotation(anno.ID, 8)
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	require.NoError(t, store.DeleteAnnotation(anno.ID, 7))
	// Terminal: deleting again reports not found.
	err = store.DeleteAnnotation(anno.ID, 7)
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestGetEditableAnnotationExcludesLocked(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	_, err := store.GetEditableAnnotation(7, 1)
	require.NoError(t, err)

	sqlStore := store.(*SQLiteStore)
	require.NoError(t, sqlStore.DB.Model(&Annotation{}).
		Where("id = ?", anno.ID).Update("locked", true).Error)

	_, err = store.GetEditableAnnotation(7, 1)
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	// The export path still sees it.
	_, err = store.GetAnnotation(7, 1)
	assert.NoError(t, err)
}

func TestClearPolygonIndicesSkipsDeleted(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	sqlStore := store.(*SQLiteStore)
	liveIndex, deletedIndex := 0, 1
	live := &Polygon{AnnotationID: anno.ID, AnnoIndex: &liveIndex, Label: "live", Points: PointList{1, 2}}
	gone := &Polygon{AnnotationID: anno.ID, AnnoIndex: &deletedIndex, Label: "gone", Points: PointList{3, 4}, Deleted: true}
	require.NoError(t, sqlStore.DB.Create(live).Error)
	require.NoError(t, sqlStore.DB.Create(gone).Error)

	require.NoError(t, store.ClearPolygonIndices(anno.ID))

	var reloaded Polygon
	require.NoError(t, sqlStore.DB.First(&reloaded, live.ID).Error)
	assert.Nil(t, reloaded.AnnoIndex)

	var reloadedGone Polygon
	require.NoError(t, sqlStore.DB.First(&reloadedGone, gone.ID).Error)
	assert.NotNil(t, reloadedGone.AnnoIndex, "deleted polygons are out of protocol scope")
}

func TestActivePolygonsOrderedAndFiltered(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	sqlStore := store.(*SQLiteStore)
	for i := 0; i < 3; i++ {
		require.NoError(t, sqlStore.DB.Create(&Polygon{
			AnnotationID: anno.ID,
			Label:        fmt.Sprintf("p%d", i),
			Points:       PointList{float64(i), float64(i)},
			Deleted:      i == 1,
		}).Error)
	}

	polygons, err := store.ActivePolygons(anno.ID)
	require.NoError(t, err)
	require.Len(t, polygons, 2)
	assert.Equal(t, "p0", polygons[0].Label)
	assert.Equal(t, "p2", polygons[1].Label)
	assert.Less(t, polygons[0].ID, polygons[1].ID)
}

func TestUpdateEditKey(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	key := []byte{1, 2, 3, 4}
	require.NoError(t, store.UpdateEditKey(anno.ID, key))

	reloaded, err := store.GetAnnotation(7, 1)
	require.NoError(t, err)
	assert.Equal(t, key, reloaded.EditKey)
}

func TestCommitUnderLockRollsBackWholesale(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	boom := fmt.Errorf("abort")
	err := store.CommitUnderLock(anno.ID, func(tx Tx, current *Annotation) error {
		require.Equal(t, anno.ID, current.ID)
		if err := tx.SavePolygon(&Polygon{AnnotationID: anno.ID, Label: "doomed", Points: PointList{1, 2}}); err != nil {
			return err
		}
		if err := tx.TouchAnnotation(anno.ID, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	polygons, listErr := store.ActivePolygons(anno.ID)
	require.NoError(t, listErr)
	assert.Empty(t, polygons, "rollback must discard every staged write")
}

func TestCommitUnderLockApplies(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	at := time.Now().UTC().Add(time.Minute)
	err := store.CommitUnderLock(anno.ID, func(tx Tx, current *Annotation) error {
		if err := tx.SavePolygon(&Polygon{AnnotationID: anno.ID, Label: "kept", Points: PointList{1, 2}}); err != nil {
			return err
		}
		return tx.TouchAnnotation(anno.ID, at)
	})
	require.NoError(t, err)

	polygons, err := store.ActivePolygons(anno.ID)
	require.NoError(t, err)
	require.Len(t, polygons, 1)
	assert.Equal(t, "kept", polygons[0].Label)

	reloaded, err := store.GetAnnotation(7, 1)
	require.NoError(t, err)
	assert.WithinDuration(t, at, reloaded.LastEditTime, time.Second)
}

func TestPointListSurvivesStorage(t *testing.T) {
	store := createDatabase(t)
	anno := seedAnnotation(t, store, 7, 1)

	sqlStore := store.(*SQLiteStore)
	original := PointList{1.25, 2.5, -3.75, 0}
	poly := &Polygon{AnnotationID: anno.ID, Label: "shape", Points: original}
	require.NoError(t, sqlStore.DB.Create(poly).Error)

	var reloaded Polygon
	require.NoError(t, sqlStore.DB.First(&reloaded, poly.ID).Error)
	assert.Equal(t, original, reloaded.Points)

	// Empty lists round-trip too.
	empty := &Polygon{AnnotationID: anno.ID, Label: "point-free"}
	require.NoError(t, sqlStore.DB.Create(empty).Error)
	var reloadedEmpty Polygon
	require.NoError(t, sqlStore.DB.First(&reloadedEmpty, empty.ID).Error)
	assert.Empty(t, reloadedEmpty.Points)
}
