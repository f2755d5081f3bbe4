// Package apiusage records metered calls to paid external APIs.
package apiusage

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one metered call.
type Record struct {
	Service   string
	Endpoint  string
	Units     int
	Cost      float64
	Metadata  map[string]any
	CreatedAt time.Time
}

// Recorder persists usage records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// PGRecorder writes to the api_usage table.
type PGRecorder struct {
	DB *sql.DB
}

func (r *PGRecorder) Record(ctx context.Context, rec Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = r.DB.ExecContext(ctx, `
INSERT INTO api_usage (id, service, endpoint, units, cost, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), rec.Service, rec.Endpoint, rec.Units, rec.Cost, meta, rec.CreatedAt)
	return err
}

// MemoryRecorder keeps records in process.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryRecorder) Record(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
