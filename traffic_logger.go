package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrafficEntry is one audited wire exchange leg.
type TrafficEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Direction     string    `json:"direction"` // "INBOUND" or "OUTBOUND"
	Function      string    `json:"function"`
	ReferenceID   string    `json:"reference_id"`
	FrameSize     int       `json:"frame_size"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// TrafficLogger keeps a bounded in-memory audit trail of every frame that
// crosses the transport, optionally mirrored to an append-only file. Inbound
// requests get a correlation id that outbound replies inherit through the
// protocol reference id.
type TrafficLogger struct {
	mutex      sync.RWMutex
	entries    []*TrafficEntry
	maxEntries int
	logFile    *os.File

	// reference id -> correlation id for in-flight exchanges
	correlations map[string]string
}

// NewTrafficLogger creates a traffic logger. logFilePath may be empty for a
// memory-only trail.
func NewTrafficLogger(maxEntries int, logFilePath string) (*TrafficLogger, error) {
	tl := &TrafficLogger{
		maxEntries:   maxEntries,
		correlations: make(map[string]string),
	}
	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open traffic log: %w", err)
		}
		tl.logFile = file
	}
	return tl, nil
}

// LogInbound records a decoded inbound envelope and mints its correlation id.
func (tl *TrafficLogger) LogInbound(env *Envelope, frameSize int) string {
	correlationID := uuid.New().String()
	tl.addEntry(&TrafficEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		Direction:     "INBOUND",
		Function:      env.Function,
		ReferenceID:   env.ReferenceID,
		FrameSize:     frameSize,
		CorrelationID: correlationID,
	})

	tl.mutex.Lock()
	tl.correlations[env.ReferenceID] = correlationID
	if len(tl.correlations) > tl.maxEntries {
		// Drop the map wholesale rather than track LRU; correlation of very
		// old exchanges is not worth the bookkeeping.
		tl.correlations = map[string]string{env.ReferenceID: correlationID}
	}
	tl.mutex.Unlock()

	return correlationID
}

// LogOutbound records a published envelope, linking it to the inbound request
// with the same reference id when one is known.
func (tl *TrafficLogger) LogOutbound(env *Envelope, frameSize int) {
	tl.mutex.RLock()
	correlationID := tl.correlations[env.ReferenceID]
	tl.mutex.RUnlock()

	tl.addEntry(&TrafficEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		Direction:     "OUTBOUND",
		Function:      env.Function,
		ReferenceID:   env.ReferenceID,
		FrameSize:     frameSize,
		CorrelationID: correlationID,
	})
}

// LogDropped records a frame that failed decode and was discarded.
func (tl *TrafficLogger) LogDropped(frameSize int, reason error) {
	tl.addEntry(&TrafficEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Direction: "INBOUND",
		Function:  "",
		FrameSize: frameSize,
		Error:     reason.Error(),
	})
}

func (tl *TrafficLogger) addEntry(entry *TrafficEntry) {
	tl.mutex.Lock()
	tl.entries = append(tl.entries, entry)
	if len(tl.entries) > tl.maxEntries {
		tl.entries = tl.entries[len(tl.entries)-tl.maxEntries:]
	}
	file := tl.logFile
	tl.mutex.Unlock()

	if file != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			log.Printf("traffic log marshal: %v", err)
			return
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			log.Printf("traffic log write: %v", err)
		}
	}
}

// Recent returns up to n most recent entries, newest last.
func (tl *TrafficLogger) Recent(n int) []*TrafficEntry {
	tl.mutex.RLock()
	defer tl.mutex.RUnlock()
	if n <= 0 || n > len(tl.entries) {
		n = len(tl.entries)
	}
	out := make([]*TrafficEntry, n)
	copy(out, tl.entries[len(tl.entries)-n:])
	return out
}

// Close flushes and closes the file sink.
func (tl *TrafficLogger) Close() error {
	tl.mutex.Lock()
	defer tl.mutex.Unlock()
	if tl.logFile != nil {
		err := tl.logFile.Close()
		tl.logFile = nil
		return err
	}
	return nil
}
