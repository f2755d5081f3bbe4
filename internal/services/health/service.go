package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service reports whether the process can reach its dependencies.
type Service struct {
	DB          Pinger
	QueueDriver string
}

// NewService constructs a health service. db may be nil when the process
// runs on in-memory repositories.
func NewService(db Pinger, queueDriver string) *Service {
	return &Service{DB: db, QueueDriver: queueDriver}
}

// Status is the health payload.
type Status struct {
	OK       bool   `json:"ok"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
	Error    string `json:"error,omitempty"`
}

// Check pings the database. A nil DB reports "memory" and is healthy.
func (s *Service) Check(ctx context.Context) Status {
	st := Status{OK: true, Database: "memory", Queue: s.QueueDriver}
	if s.DB == nil {
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		st.OK = false
		st.Database = "unreachable"
		st.Error = err.Error()
		return st
	}
	st.Database = "ok"
	return st
}
