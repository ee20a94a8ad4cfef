package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/contentstore"
	"docchat/internal/ingest"
	"docchat/internal/models"
	"docchat/internal/observability"
	"docchat/internal/service/catalog"
)

// uploadDocument streams the file field to disk, hands it to the content
// store and then records the document, strictly in that order.
func (h *Handler) uploadDocument(c *gin.Context) {
	if _, ok := h.ownerID(c); !ok {
		return
	}
	start := time.Now()
	ctx := c.Request.Context()

	upload, err := h.receiver.Receive(ctx, c.Request.Body, c.GetHeader("Content-Type"))
	if err != nil {
		h.uploadFailed(c, err, start)
		return
	}
	log := h.log.With("filename", upload.OriginalFilename, "path", upload.Path, "bytes", upload.Size)

	storeStart := time.Now()
	log.Info("content store upload started", "store", h.store.Kind())
	ref, err := h.store.Upload(ctx, upload.Path, upload.OriginalFilename, upload.MimeType)
	h.metrics.ObserveContentStore(h.store.Kind(), err, time.Since(storeStart))
	if err != nil {
		// The local file stays for a retry; the orphan sweeper reclaims it otherwise.
		log.Error("content store upload failed", "error", err)
		h.uploadFailed(c, err, start)
		return
	}
	log.Info("content store upload finished", "uri", ref.URI)

	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = upload.MimeType
	}
	uri := ref.URI
	if _, err := h.catalog.CreateDocument(ctx, models.Document{
		Filename:    upload.OriginalFilename,
		MimeType:    mimeType,
		StoragePath: upload.Path,
		ExternalURI: &uri,
		Size:        upload.Size,
	}); err != nil {
		h.uploadFailed(c, err, start)
		return
	}

	h.metrics.ObserveUpload(observability.UploadOK, upload.Size, time.Since(start))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "File uploaded successfully"})
}

func (h *Handler) uploadFailed(c *gin.Context, err error, start time.Time) {
	status := http.StatusInternalServerError
	outcome := observability.UploadError
	message := err.Error()

	var sizeErr *ingest.SizeLimitError
	switch {
	case errors.Is(err, ingest.ErrMissingFile):
		status, outcome, message = http.StatusBadRequest, observability.UploadMissingFile, "No file uploaded"
	case errors.As(err, &sizeErr):
		status, outcome, message = http.StatusRequestEntityTooLarge, observability.UploadTooLarge, sizeErr.Error()
	case errors.Is(err, ingest.ErrWriteFailure):
		outcome = observability.UploadWriteFailure
	case errors.Is(err, contentstore.ErrExternalStore):
		outcome = observability.UploadExternalStore
	case errors.Is(err, catalog.ErrPersistence):
		outcome = observability.UploadPersistence
	}

	h.metrics.ObserveUpload(outcome, 0, time.Since(start))
	if status == http.StatusInternalServerError {
		h.log.Error("upload failed", "error", err)
	} else {
		h.log.Info("upload rejected", "status", status, "error", err)
	}
	c.JSON(status, gin.H{"success": false, "message": "Upload failed", "error": message})
}

type documentResponse struct {
	models.Document
	Synced bool `json:"synced"`
}

func (h *Handler) listDocuments(c *gin.Context) {
	docs, err := h.catalog.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentResponse{Document: d, Synced: d.Synced()})
	}
	c.JSON(http.StatusOK, out)
}
