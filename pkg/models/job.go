package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a prediction job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// Job tracks one asynchronous prediction. The API returns a job_id on POST /api/v1/predictions;
// the client polls GET /api/v1/jobs/{job_id} until status is done or error.
type Job struct {
	ID        uuid.UUID      `json:"id"`
	Status    JobStatus      `json:"status"`
	Result    *PredictionSet `json:"result,omitempty"`
	Error     *JobError      `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// View returns a copy of the job safe to hand to callers.
func (j *Job) View() JobView {
	v := JobView{ID: j.ID, Status: j.Status}
	if j.Result != nil {
		v.Predictions = j.Result.Polygons
		if v.Predictions == nil {
			v.Predictions = []Polygon{}
		}
		v.ImageSize = &ImageSize{Width: j.Result.ImageWidth, Height: j.Result.ImageHeight}
	}
	if j.Error != nil {
		e := *j.Error
		v.Error = &e
	}
	return v
}

// JobView is the poll result exposed to the HTTP layer.
type JobView struct {
	ID     uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
	// A done job with nothing detected still reports an empty list.
	Predictions []Polygon  `json:"predictions,omitzero"`
	ImageSize   *ImageSize `json:"image_size,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
