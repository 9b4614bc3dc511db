package queue

import (
	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/models"
)

const (
	TypeCompress   = "pdf:compress"
	TypeMerge      = "pdf:merge"
	TypeImageToPDF = "pdf:image_to_pdf"

	TypeSweep     = "maintenance:sweep"
	TypeStaleJobs = "maintenance:stale_jobs"
)

const (
	QueueDefault     = "default"
	QueueMaintenance = "maintenance"
)

// TypeFor maps a tool to its task type.
func TypeFor(tool models.Tool) string {
	switch tool {
	case models.ToolMerge:
		return TypeMerge
	case models.ToolImageToPDF:
		return TypeImageToPDF
	default:
		return TypeCompress
	}
}

// JobPayload carries everything a worker needs to run one job. Inputs are
// absolute paths under the shared temp directory, in processing order.
type JobPayload struct {
	JobID       uuid.UUID       `json:"job_id"`
	Tool        models.Tool     `json:"tool"`
	Inputs      []string        `json:"inputs"`
	OutputName  string          `json:"output_name"`
	Quality     models.Quality  `json:"quality,omitempty"`
	TargetBytes int64           `json:"target_bytes,omitempty"`
	PageSize    models.PageSize `json:"page_size,omitempty"`
}
