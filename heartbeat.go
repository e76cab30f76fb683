package main

import (
	"log"
	"sync"
	"time"
)

// HeartbeatScheduler publishes a periodic heartbeat independent of inbound
// traffic. A failed publish is logged and retried on the next natural tick;
// time.Ticker drops missed ticks, so there is never a catch-up burst.
type HeartbeatScheduler struct {
	sim      *MassSim
	interval time.Duration

	mutex   sync.Mutex
	stop    chan struct{}
	running bool
}

func newHeartbeatScheduler(sim *MassSim, interval time.Duration) *HeartbeatScheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &HeartbeatScheduler{
		sim:      sim,
		interval: interval,
	}
}

// Start launches the ticker goroutine. Starting twice is a no-op.
func (hs *HeartbeatScheduler) Start() {
	hs.mutex.Lock()
	defer hs.mutex.Unlock()
	if hs.running {
		return
	}
	hs.stop = make(chan struct{})
	hs.running = true
	go hs.run(hs.stop)
	log.Printf("💓 Heartbeat scheduler started (interval %s)", hs.interval)
}

// Stop halts the ticker goroutine. Stopping twice is a no-op.
func (hs *HeartbeatScheduler) Stop() {
	hs.mutex.Lock()
	defer hs.mutex.Unlock()
	if !hs.running {
		return
	}
	close(hs.stop)
	hs.running = false
}

func (hs *HeartbeatScheduler) run(stop chan struct{}) {
	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hs.Beat()
		case <-stop:
			return
		}
	}
}

// Beat builds one heartbeat from current telemetry and publishes it. Also the
// manual-trigger entry point; it shares the scheduler's publish path exactly.
func (hs *HeartbeatScheduler) Beat() {
	if err := hs.sim.publishEnvelope(hs.sim.heartbeatEnvelope()); err != nil {
		log.Printf("heartbeat publish failed, will retry next tick: %v", err)
	}
}
