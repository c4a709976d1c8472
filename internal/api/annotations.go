package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/labelous/labelsync/internal/annotation"
	"github.com/labelous/labelsync/internal/conf"
	"github.com/labelous/labelsync/internal/datastore"
	"github.com/labelous/labelsync/internal/errors"
	"github.com/labelous/labelsync/internal/logging"
	"github.com/labelous/labelsync/internal/observability"
)

// ackDocument is the fixed acknowledgment returned by the import
// endpoint for every processed request. The response deliberately never
// says why an import was refused; the client recovers by re-exporting.
const ackDocument = "<nop/>"

// Controller handles the annotation endpoints.
type Controller struct {
	settings *conf.Settings
	store    datastore.Interface
	exporter *annotation.Exporter
	importer *annotation.Importer
	identity IdentityProvider
	metrics  *observability.Metrics
	log      *slog.Logger
}

// NewController wires the protocol components behind the HTTP surface.
func NewController(settings *conf.Settings, store datastore.Interface, subjects annotation.SubjectResolver, identity IdentityProvider, metrics *observability.Metrics) *Controller {
	log := logging.ForService("annotation")
	return &Controller{
		settings: settings,
		store:    store,
		exporter: annotation.NewExporter(store, subjects, log),
		importer: annotation.NewImporter(store, subjects, settings.Sync.StrictDeletedIdentity, log),
		identity: identity,
		metrics:  metrics,
		log:      log,
	}
}

// RegisterRoutes attaches the annotation endpoints to a route group.
func (c *Controller) RegisterRoutes(g *echo.Group) {
	g.GET("/annotations/:image_id/xml", c.GetAnnotationXML)
	g.POST("/annotations/xml", c.PostAnnotationXML)
	g.POST("/annotations", c.CreateAnnotation)
	g.POST("/annotations/:id/finished", c.SetFinished)
	g.DELETE("/annotations/:id", c.DeleteAnnotation)
}

// GetAnnotationXML handles the export path: it returns the current
// full-state document for the caller's annotation of an image, rotating
// the edit key as a side effect.
func (c *Controller) GetAnnotationXML(ctx echo.Context) error {
	annotatorID, err := c.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx.NoContent(http.StatusUnauthorized)
	}
	imageID, err := strconv.ParseUint(ctx.Param("image_id"), 10, 32)
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}

	data, err := c.exporter.Export(annotatorID, uint(imageID))
	if err != nil {
		if errors.Is(err, annotation.ErrNotFound) {
			c.metrics.ExportsTotal.WithLabelValues("not_found").Inc()
			return ctx.String(http.StatusNotFound, "Annotation does not exist.")
		}
		c.metrics.ExportsTotal.WithLabelValues("error").Inc()
		c.log.Error("export failed", "image_id", imageID, "annotator_id", annotatorID, "error", err)
		return ctx.NoContent(http.StatusInternalServerError)
	}

	c.metrics.ExportsTotal.WithLabelValues("ok").Inc()
	return ctx.Blob(http.StatusOK, echo.MIMETextXML, data)
}

// PostAnnotationXML handles the import path. Whatever the outcome, the
// body is the same fixed acknowledgment; only the status code separates
// accepted from refused, and the rejection reason stays in logs and
// metrics.
func (c *Controller) PostAnnotationXML(ctx echo.Context) error {
	annotatorID, err := c.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx.NoContent(http.StatusUnauthorized)
	}

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	err = c.importer.Import(annotatorID, body)
	switch {
	case err == nil:
		c.metrics.ImportsTotal.WithLabelValues("applied").Inc()
		return ctx.Blob(http.StatusOK, echo.MIMETextXML, []byte(ackDocument))
	default:
		if reason, ok := annotation.ReasonOf(err); ok {
			c.metrics.ImportsTotal.WithLabelValues("rejected").Inc()
			c.metrics.ImportRejections.WithLabelValues(string(reason)).Inc()
			c.log.Warn("import rejected",
				"annotator_id", annotatorID,
				"reason", string(reason),
				"error", err)
			return ctx.Blob(http.StatusBadRequest, echo.MIMETextXML, []byte(ackDocument))
		}
		c.metrics.ImportsTotal.WithLabelValues("error").Inc()
		c.log.Error("import failed", "annotator_id", annotatorID, "error", err)
		return ctx.Blob(http.StatusInternalServerError, echo.MIMETextXML, []byte(ackDocument))
	}
}

// createAnnotationRequest is the body for CreateAnnotation.
type createAnnotationRequest struct {
	ImageID uint `json:"imageId"`
}

// createAnnotationResponse echoes back the new annotation identity.
type createAnnotationResponse struct {
	ID uint `json:"id"`
}

// CreateAnnotation starts a new label set for the caller on an image.
// At most one live annotation may exist per (annotator, image).
func (c *Controller) CreateAnnotation(ctx echo.Context) error {
	annotatorID, err := c.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx.NoContent(http.StatusUnauthorized)
	}
	var req createAnnotationRequest
	if err := ctx.Bind(&req); err != nil || req.ImageID == 0 {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "imageId is required"})
	}

	image, err := c.store.GetImage(req.ImageID)
	if err != nil || !image.Visible {
		return ctx.JSON(http.StatusNotFound, map[string]string{"error": "image does not exist"})
	}

	anno := &datastore.Annotation{
		AnnotatorID:  annotatorID,
		ImageID:      req.ImageID,
		CreatedAt:    time.Now().UTC(),
		LastEditTime: time.Now().UTC(),
	}
	if err := c.store.CreateAnnotation(anno); err != nil {
		if errors.Is(err, datastore.ErrAnnotationExists) {
			return ctx.JSON(http.StatusConflict, map[string]string{"error": "annotation already exists"})
		}
		c.log.Error("annotation create failed", "image_id", req.ImageID, "annotator_id", annotatorID, "error", err)
		return ctx.NoContent(http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusCreated, createAnnotationResponse{ID: anno.ID})
}

// setFinishedRequest is the body for SetFinished.
type setFinishedRequest struct {
	Finished bool `json:"finished"`
}

// SetFinished flips the caller's finished flag on an annotation,
// signalling it is ready for review.
func (c *Controller) SetFinished(ctx echo.Context) error {
	annotatorID, err := c.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx.NoContent(http.StatusUnauthorized)
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}
	var req setFinishedRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.NoContent(http.StatusBadRequest)
	}

	if err := c.store.SetAnnotationFinished(uint(id), annotatorID, req.Finished); err != nil {
		if errors.Is(err, datastore.ErrRecordNotFound) {
			return ctx.NoContent(http.StatusNotFound)
		}
		return ctx.NoContent(http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// DeleteAnnotation soft-deletes the caller's annotation. The record and
// its polygons remain stored for history; the delete is terminal.
func (c *Controller) DeleteAnnotation(ctx echo.Context) error {
	annotatorID, err := c.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx.NoContent(http.StatusUnauthorized)
	}
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}

	if err := c.store.DeleteAnnotation(uint(id), annotatorID); err != nil {
		if errors.Is(err, datastore.ErrRecordNotFound) {
			return ctx.NoContent(http.StatusNotFound)
		}
		return ctx.NoContent(http.StatusInternalServerError)
	}
	return ctx.NoContent(http.StatusNoContent)
}
