package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

func TestCheck(t *testing.T) {
	st := NewService(nil, "local").Check(context.Background())
	if !st.OK || st.Database != "memory" || st.Queue != "local" {
		t.Fatalf("unexpected memory status: %+v", st)
	}

	st = NewService(fakePinger{}, "sqs").Check(context.Background())
	if !st.OK || st.Database != "ok" {
		t.Fatalf("unexpected healthy status: %+v", st)
	}

	st = NewService(fakePinger{err: errors.New("connection refused")}, "sqs").Check(context.Background())
	if st.OK || st.Database != "unreachable" || st.Error == "" {
		t.Fatalf("unexpected failing status: %+v", st)
	}
}
