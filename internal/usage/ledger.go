// Package usage implements the daily per-tool quota backed by the usage log.
package usage

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/slimpdf/slimpdf-api/internal/config"
	"github.com/slimpdf/slimpdf-api/internal/models"
)

// Decision is the ledger's answer for one (tool, identity) pair. Limit 0
// means unlimited, not "zero allowed".
type Decision struct {
	Allowed bool `json:"allowed"`
	Used    int  `json:"used"`
	Limit   int  `json:"limit"`
}

func (d Decision) Unlimited() bool { return d.Limit == 0 }

func (d Decision) Remaining() int {
	if d.Unlimited() {
		return -1
	}
	if r := d.Limit - d.Used; r > 0 {
		return r
	}
	return 0
}

type Limits map[models.Tool]int

func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		models.ToolCompress:   cfg.CompressFree,
		models.ToolMerge:      cfg.MergeFree,
		models.ToolImageToPDF: cfg.ImageToPDFFree,
	}
}

// Subject is who usage is counted against: the user when authenticated,
// otherwise the client address.
type Subject struct {
	UserID *uuid.UUID
	IP     *netip.Addr
}

// SubjectOf returns false for an anonymous identity whose address could not
// be resolved; such callers are never allowed by identity.
func SubjectOf(id models.Identity) (Subject, bool) {
	var s Subject
	if id.IP != "" {
		if addr, err := netip.ParseAddr(id.IP); err == nil {
			s.IP = &addr
		}
	}
	if id.UserID != nil {
		s.UserID = id.UserID
		return s, true
	}
	return s, s.IP != nil
}

func (s Subject) String() string {
	if s.UserID != nil {
		return "user:" + s.UserID.String()
	}
	if s.IP != nil {
		return "ip:" + s.IP.String()
	}
	return "unknown"
}

type Store interface {
	CountSince(ctx context.Context, tool models.Tool, subject Subject, since time.Time) (int, error)
	Summary(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.ToolUsage, error)
}

type Ledger struct {
	store  Store
	limits Limits
	now    func() time.Time
}

func NewLedger(store Store, limits Limits) *Ledger {
	return &Ledger{store: store, limits: limits, now: time.Now}
}

// StartOfDay is midnight UTC of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// UntilReset is the time left before the daily counters roll over.
func UntilReset(t time.Time) time.Duration {
	return StartOfDay(t).Add(24 * time.Hour).Sub(t)
}

func (l *Ledger) Limit(tool models.Tool) int {
	return l.limits[tool]
}

// Check reports whether id may start another tool operation today. It does
// not record anything.
func (l *Ledger) Check(ctx context.Context, tool models.Tool, id models.Identity) (Decision, error) {
	if id.IsPro() {
		return Decision{Allowed: true}, nil
	}

	limit := l.limits[tool]
	subject, ok := SubjectOf(id)
	if !ok {
		return Decision{Allowed: false, Used: 0, Limit: limit}, nil
	}

	used, err := l.store.CountSince(ctx, tool, subject, StartOfDay(l.now()))
	if err != nil {
		return Decision{}, fmt.Errorf("count usage for %s: %w", tool, err)
	}
	return Decision{Allowed: used < limit, Used: used, Limit: limit}, nil
}

type ToolQuota struct {
	Tool      models.Tool `json:"tool"`
	Used      int         `json:"used"`
	Limit     int         `json:"limit"`
	Remaining int         `json:"remaining"`
	Unlimited bool        `json:"unlimited"`
}

// Today returns id's usage for every tool so far today.
func (l *Ledger) Today(ctx context.Context, id models.Identity) ([]ToolQuota, error) {
	out := make([]ToolQuota, 0, len(models.Tools))
	for _, tool := range models.Tools {
		d, err := l.Check(ctx, tool, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ToolQuota{
			Tool:      tool,
			Used:      d.Used,
			Limit:     d.Limit,
			Remaining: d.Remaining(),
			Unlimited: d.Unlimited(),
		})
	}
	return out, nil
}

type Stats struct {
	Days       int                `json:"days"`
	Since      time.Time          `json:"since"`
	Total      int64              `json:"total_operations"`
	InputBytes int64              `json:"total_input_bytes"`
	ByTool     []models.ToolUsage `json:"by_tool"`
}

// Stats summarizes userID's usage over the last days days.
func (l *Ledger) Stats(ctx context.Context, userID uuid.UUID, days int) (*Stats, error) {
	since := StartOfDay(l.now()).AddDate(0, 0, -(days - 1))
	rows, err := l.store.Summary(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}

	st := &Stats{Days: days, Since: since, ByTool: rows}
	if st.ByTool == nil {
		st.ByTool = []models.ToolUsage{}
	}
	for _, r := range rows {
		st.Total += r.Count
		st.InputBytes += r.InputBytes
	}
	return st, nil
}
