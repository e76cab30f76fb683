package main

import (
	"errors"
	"testing"
	"time"
)

func TestHeartbeatSchedulerTicks(t *testing.T) {
	sim, sink := newTestSim(t)
	hs := newHeartbeatScheduler(sim, 10*time.Millisecond)

	hs.Start()
	time.Sleep(45 * time.Millisecond)
	hs.Stop()

	envs := sink.envelopes(t)
	if len(envs) < 2 {
		t.Fatalf("expected at least 2 heartbeats, got %d", len(envs))
	}
	seen := make(map[string]bool)
	for i, env := range envs {
		if env.Function != FunctionHeartbeat {
			t.Fatalf("envelope %d: expected heartbeat, got %q", i, env.Function)
		}
		if seen[env.ReferenceID] {
			t.Fatalf("reference id %q reused across pushes", env.ReferenceID)
		}
		seen[env.ReferenceID] = true
	}
}

func TestHeartbeatCarriesCurrentTelemetry(t *testing.T) {
	sim, sink := newTestSim(t)
	hs := newHeartbeatScheduler(sim, time.Hour)

	signal := 5
	temp := 33
	sim.device.UpdateTelemetry(TelemetryUpdate{Signal: &signal, CPUTemp: &temp})
	hs.Beat()

	envs := sink.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("expected 1 heartbeat, got %d", len(envs))
	}
	body, ok := envs[0].Notification.(map[string]interface{})
	if !ok {
		t.Fatalf("expected heartbeat body, got %#v", envs[0].Notification)
	}
	if body["signal"] != float64(5) || body["cpuTemp"] != float64(33) {
		t.Fatalf("expected live telemetry in heartbeat, got %v", body)
	}
}

func TestHeartbeatSurvivesPublishFailure(t *testing.T) {
	sim, sink := newTestSim(t)
	hs := newHeartbeatScheduler(sim, time.Hour)

	sink.setErr(errors.New("broker down"))
	hs.Beat()
	if sink.count() != 0 {
		t.Fatalf("expected nothing recorded while transport is down, got %d", sink.count())
	}

	sink.setErr(nil)
	hs.Beat()
	if sink.count() != 1 {
		t.Fatalf("expected heartbeat after transport recovery, got %d", sink.count())
	}
}

func TestHeartbeatDefaultInterval(t *testing.T) {
	sim, _ := newTestSim(t)

	hs := newHeartbeatScheduler(sim, 0)
	if hs.interval != 60*time.Second {
		t.Fatalf("expected 60s default interval, got %s", hs.interval)
	}
	hs = newHeartbeatScheduler(sim, -time.Second)
	if hs.interval != 60*time.Second {
		t.Fatalf("expected 60s default for negative interval, got %s", hs.interval)
	}
}

func TestHeartbeatStartStopIdempotent(t *testing.T) {
	sim, _ := newTestSim(t)
	hs := newHeartbeatScheduler(sim, time.Hour)

	hs.Start()
	hs.Start()
	hs.Stop()
	hs.Stop()

	// restartable after a stop
	hs.Start()
	hs.Stop()
}
