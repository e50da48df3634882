package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/hostprep/pkg/engine"
	"github.com/openfroyo/hostprep/pkg/telemetry"
)

// ExampleMetrics records a run and writes the textfile.
func ExampleMetrics() {
	metrics := telemetry.NewMetrics()
	ctx := context.Background()

	_ = metrics.Publish(ctx, &engine.Event{
		Type:   engine.EventTypeActionSkipped,
		Result: &engine.ActionResult{ActionID: "docker.engine", Status: engine.ActionStatusSkipped},
	})
	_ = metrics.Publish(ctx, &engine.Event{
		Type:      engine.EventTypeRunCompleted,
		Timestamp: time.Unix(1700000000, 0),
		Run: &engine.Run{
			Status:  engine.RunStatusSucceeded,
			Summary: engine.RunSummary{Total: 1, Skipped: 1},
		},
	})

	dir, _ := os.MkdirTemp("", "metrics")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "hostprep.prom")
	if err := metrics.WriteTextfile(path); err != nil {
		fmt.Println(err)
		return
	}

	data, _ := os.ReadFile(path)
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "hostprep_actions_total{") || strings.HasPrefix(line, "hostprep_last_run") {
			fmt.Println(line)
		}
	}
	// Output:
	// hostprep_actions_total{action="docker.engine",status="skipped"} 1
	// hostprep_last_run_timestamp_seconds 1.7e+09
}
