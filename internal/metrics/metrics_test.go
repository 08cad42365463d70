package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(jokesServed)
	IncJoke()
	if got := testutil.ToFloat64(jokesServed); got != before+1 {
		t.Fatalf("jokes counter %v, want %v", got, before+1)
	}
	IncRun("completed")
	if got := testutil.ToFloat64(runsByStatus.WithLabelValues("completed")); got < 1 {
		t.Fatalf("run counter not incremented")
	}
}

func TestStartDisabled(t *testing.T) {
	addr, err := Start(context.Background(), "", nil)
	if err != nil || addr != nil {
		t.Fatalf("expected no-op, got %v %v", addr, err)
	}
}

func TestStartServesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := Start(ctx, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	IncCheckpoint()
	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "shep_checkpoints_written_total") {
		t.Fatalf("metric missing from output")
	}
}
