package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/api/response"
	"github.com/kiranshivaraju/holdseg/internal/export"
	"github.com/kiranshivaraju/holdseg/internal/jobs"
	"github.com/kiranshivaraju/holdseg/internal/pool"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// DefaultMaxUploadBytes bounds an image upload when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

var errNoImage = errors.New("no image in request")

// Service defines the interface the prediction handlers depend on.
type Service interface {
	Submit(image []byte) (uuid.UUID, error)
	Poll(id uuid.UUID) (models.JobView, error)
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/predictions.
// The image is taken from the multipart field "image", or from the raw body
// when the request is sent as image/* or application/octet-stream.
func NewSubmitHandler(svc Service, maxBytes int64) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		image, err := readImage(r, maxBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Image exceeds upload limit", map[string]int64{"max_bytes": maxBytes})
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		if len(image) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image is required", nil)
			return
		}

		id, err := svc.Submit(image)
		if err != nil {
			switch {
			case errors.Is(err, pool.ErrClosed):
				response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Server is shutting down", nil)
			case models.KindOf(err) == models.KindInput:
				response.Error(w, http.StatusBadRequest, "INVALID_IMAGE", err.Error(), nil)
			default:
				slog.Error("submitting prediction", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to queue prediction", nil)
			}
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": id,
			"status": models.JobStatusPending,
		})
	}
}

// NewPollHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewPollHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := lookup(w, r, svc)
		if !ok {
			return
		}
		response.JSON(w, view)
	}
}

// NewGeoJSONHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/geojson. Only finished jobs can be exported.
func NewGeoJSONHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, ok := lookup(w, r, svc)
		if !ok {
			return
		}
		if view.Status != models.JobStatusDone {
			response.Error(w, http.StatusConflict, "JOB_NOT_DONE", "Job has no predictions yet",
				map[string]string{"status": string(view.Status)})
			return
		}

		set := &models.PredictionSet{Polygons: view.Predictions}
		if view.ImageSize != nil {
			set.ImageWidth = view.ImageSize.Width
			set.ImageHeight = view.ImageSize.Height
		}
		body, err := export.FeatureCollection(set).MarshalJSON()
		if err != nil {
			slog.Error("encoding geojson", "job_id", view.ID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to encode GeoJSON", nil)
			return
		}
		response.Raw(w, "application/geo+json", body)
	}
}

func lookup(w http.ResponseWriter, r *http.Request, svc Service) (models.JobView, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job ID", nil)
		return models.JobView{}, false
	}

	view, err := svc.Poll(id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return models.JobView{}, false
		}
		if errors.Is(err, jobs.ErrExpired) {
			response.Error(w, http.StatusGone, "JOB_EXPIRED", "Job result is no longer available", nil)
			return models.JobView{}, false
		}
		slog.Error("polling job", "job_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
		return models.JobView{}, false
	}
	return view, true
}

func readImage(r *http.Request, maxBytes int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return nil, errNoImage
			}
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	case mediaType == "application/octet-stream", strings.HasPrefix(mediaType, "image/"):
		return io.ReadAll(r.Body)
	default:
		return nil, errors.New("content type must be multipart/form-data, image/* or application/octet-stream")
	}
}
