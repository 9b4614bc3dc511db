package models

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// UsageLogEntry is append-only; one row per accepted operation.
type UsageLogEntry struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	UserID      *uuid.UUID  `json:"user_id,omitempty" db:"user_id"`
	Tool        Tool        `json:"tool" db:"tool"`
	InputBytes  int64       `json:"input_size_bytes" db:"input_size_bytes"`
	OutputBytes *int64      `json:"output_size_bytes,omitempty" db:"output_size_bytes"`
	FileCount   int         `json:"file_count" db:"file_count"`
	APIRequest  bool        `json:"api_request" db:"api_request"`
	IPAddress   *netip.Addr `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// ToolUsage is one tool's row in a usage summary.
type ToolUsage struct {
	Tool       Tool  `json:"tool"`
	Count      int64 `json:"count"`
	InputBytes int64 `json:"input_bytes"`
}
