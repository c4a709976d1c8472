package annotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelous/labelsync/internal/datastore"
)

func intPtr(v int) *int    { return &v }
func uintPtr(v uint) *uint { return &v }

func testAnnotation() *datastore.Annotation {
	return &datastore.Annotation{ID: 10, AnnotatorID: 7, ImageID: 1}
}

func TestReconcileIdentityPrecedesPosition(t *testing.T) {
	// Polygon 1 is persisted with its index cleared; polygon 2 was
	// created this session and still holds index 0. A record claiming
	// identity 1 at position 0 must edit polygon 1, never polygon 2.
	existing := []datastore.Polygon{
		{ID: 1, AnnotationID: 10, Label: "cat", Points: datastore.PointList{1, 2}},
		{ID: 2, AnnotationID: 10, AnnoIndex: intPtr(0), Label: "dog", Points: datastore.PointList{3, 4}},
	}
	records := []IntermediateRecord{
		{ID: uintPtr(1), Index: 0, Label: "cat edited", Points: []float64{1, 2}},
	}

	result, err := Reconcile(testAnnotation(), existing, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Changed, 1)
	assert.Equal(t, uint(1), result.Changed[0].ID)
	assert.Equal(t, "cat edited", result.Changed[0].Label)
}

func TestReconcileCreatesNewPolygonWithIndex(t *testing.T) {
	records := []IntermediateRecord{
		{Index: 0, Label: "new", Occluded: true, Points: []float64{1, 2, 3, 4}},
	}

	result, err := Reconcile(testAnnotation(), nil, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Changed, 1)
	created := result.Changed[0]
	assert.Zero(t, created.ID)
	assert.Equal(t, uint(10), created.AnnotationID)
	require.NotNil(t, created.AnnoIndex)
	assert.Equal(t, 0, *created.AnnoIndex)
	assert.Equal(t, "new", created.Label)
	assert.True(t, result.AnnotationChanged)
}

func TestReconcileMatchesSessionLocalPolygonByIndex(t *testing.T) {
	existing := []datastore.Polygon{
		{ID: 5, AnnotationID: 10, AnnoIndex: intPtr(1), Label: "draft", Points: datastore.PointList{1, 1}},
	}
	records := []IntermediateRecord{
		{Index: 1, Label: "renamed", Points: []float64{1, 1}},
	}

	result, err := Reconcile(testAnnotation(), existing, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Changed, 1)
	assert.Equal(t, uint(5), result.Changed[0].ID)
	assert.Equal(t, "renamed", result.Changed[0].Label)
}

func TestReconcileNoOpWhenNothingChanged(t *testing.T) {
	existing := []datastore.Polygon{
		{ID: 3, AnnotationID: 10, Label: "same", Notes: "n", Points: datastore.PointList{1, 2}},
	}
	records := []IntermediateRecord{
		{ID: uintPtr(3), Index: 0, Label: "same", Notes: "n", Points: []float64{1, 2}},
	}

	result, err := Reconcile(testAnnotation(), existing, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Changed)
	assert.False(t, result.AnnotationChanged)
}

func TestReconcileUnknownIdentityNotDeletedFails(t *testing.T) {
	records := []IntermediateRecord{
		{ID: uintPtr(99), Index: 0, Label: "ghost"},
	}

	_, err := Reconcile(testAnnotation(), nil, records, reconcilePolicy{}, time.Now())
	require.Error(t, err)
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingIdentity, reason)
}

func TestReconcileUnknownDeletedIdentityIsNoOpByDefault(t *testing.T) {
	records := []IntermediateRecord{
		{ID: uintPtr(99), Index: 0, Label: "gone", Deleted: true},
	}

	result, err := Reconcile(testAnnotation(), nil, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Changed)
}

func TestReconcileUnknownDeletedIdentityRejectedWhenStrict(t *testing.T) {
	records := []IntermediateRecord{
		{ID: uintPtr(99), Index: 0, Label: "gone", Deleted: true},
	}

	_, err := Reconcile(testAnnotation(), nil, records, reconcilePolicy{StrictDeletedIdentity: true}, time.Now())
	require.Error(t, err)
	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingIdentity, reason)
}

func TestReconcileIdentityLessDeletedRecordIsDropped(t *testing.T) {
	// Created and deleted within one session without ever being saved:
	// nothing to do.
	records := []IntermediateRecord{
		{Index: 0, Label: "ephemeral", Deleted: true},
	}

	result, err := Reconcile(testAnnotation(), nil, records, reconcilePolicy{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, result.Changed)
}

func TestReconcileStagesSoftDelete(t *testing.T) {
	now := time.Now()
	existing := []datastore.Polygon{
		{ID: 4, AnnotationID: 10, Label: "old", Points: datastore.PointList{1, 2}},
	}
	records := []IntermediateRecord{
		{ID: uintPtr(4), Index: 0, Label: "old", Deleted: true, Points: []float64{1, 2}},
	}

	result, err := Reconcile(testAnnotation(), existing, records, reconcilePolicy{}, now)
	require.NoError(t, err)
	require.Len(t, result.Changed, 1)
	assert.True(t, result.Changed[0].Deleted)
	assert.Equal(t, now, result.Changed[0].LastEditTime)
}
