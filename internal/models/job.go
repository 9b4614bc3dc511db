package models

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Tool string

const (
	ToolCompress   Tool = "compress"
	ToolMerge      Tool = "merge"
	ToolImageToPDF Tool = "image_to_pdf"
)

var Tools = []Tool{ToolCompress, ToolMerge, ToolImageToPDF}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type Job struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	UserID         *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Tool           Tool       `json:"tool" db:"tool"`
	Status         JobStatus  `json:"status" db:"status"`
	InputFilename  string     `json:"input_filename" db:"input_filename"`
	OutputFilename *string    `json:"output_filename,omitempty" db:"output_filename"`
	FilePath       *string    `json:"-" db:"file_path"`
	OriginalSize   *int64     `json:"original_size,omitempty" db:"original_size"`
	OutputSize     *int64     `json:"output_size,omitempty" db:"output_size"`
	ErrorCode      *string    `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ReductionPercent is round((1 - output/original) * 100, 1), or nil when
// either size is unknown.
func (j *Job) ReductionPercent() *float64 {
	if j.OriginalSize == nil || j.OutputSize == nil || *j.OriginalSize == 0 {
		return nil
	}
	p := (1 - float64(*j.OutputSize)/float64(*j.OriginalSize)) * 100
	p = math.Round(p*10) / 10
	return &p
}

func (j *Job) IsExpired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// DownloadName is {stem}_{tool}.pdf, or {tool}_{id[:8]}.pdf when the job has
// no usable original name.
func (j *Job) DownloadName() string {
	name := strings.TrimSpace(j.InputFilename)
	if name != "" {
		stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		if stem != "" && stem != "." {
			return fmt.Sprintf("%s_%s.pdf", stem, j.Tool)
		}
	}
	return fmt.Sprintf("%s_%s.pdf", j.Tool, j.ID.String()[:8])
}
