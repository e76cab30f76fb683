package main

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"testing"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// captureSink records published frames instead of talking to a broker.
type captureSink struct {
	mutex  sync.Mutex
	frames [][]byte
	err    error
}

func (s *captureSink) Publish(topic string, payload []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil {
		return s.err
	}
	frame := make([]byte, len(payload))
	copy(frame, payload)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *captureSink) setErr(err error) {
	s.mutex.Lock()
	s.err = err
	s.mutex.Unlock()
}

func (s *captureSink) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.frames)
}

// envelopes unframes and decodes everything published so far.
func (s *captureSink) envelopes(t *testing.T) []*Envelope {
	t.Helper()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]*Envelope, 0, len(s.frames))
	for i, frame := range s.frames {
		payload, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("published frame %d does not decode: %v", i, err)
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("published frame %d is not a valid envelope: %v", i, err)
		}
		out = append(out, &env)
	}
	return out
}

func newTestSim(t *testing.T) (*MassSim, *captureSink) {
	t.Helper()
	sim := NewMassSim(DefaultConfig())
	sink := &captureSink{}
	sim.sink = sink
	return sim, sink
}

// requestFrame builds a framed server-side request as it would arrive off the
// wire.
func requestFrame(t *testing.T, function, referenceID string, request interface{}) []byte {
	t.Helper()
	env := map[string]interface{}{
		"device":      map[string]string{"flag": "SRV", "serialNumber": "server-1"},
		"function":    function,
		"referenceId": referenceID,
	}
	if request != nil {
		env["request"] = request
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal request envelope: %v", err)
	}
	return EncodeFrame(payload)
}

func TestHandleFrameIdentificationExchange(t *testing.T) {
	sim, sink := newTestSim(t)

	sim.handleFrame(requestFrame(t, FunctionIdentification, "ref-1", nil))

	envs := sink.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("expected 2 published envelopes, got %d", len(envs))
	}
	if envs[0].Function != FunctionAck {
		t.Fatalf("expected ack first, got %q", envs[0].Function)
	}
	if envs[1].Function != FunctionIdentification {
		t.Fatalf("expected identification reply, got %q", envs[1].Function)
	}
	for i, env := range envs {
		if env.ReferenceID != "ref-1" {
			t.Fatalf("envelope %d: expected reference ref-1, got %q", i, env.ReferenceID)
		}
		if env.Device.Flag != "XYZ" || env.Device.SerialNumber != "0123456789ABCDE" {
			t.Fatalf("envelope %d: unexpected device header %+v", i, env.Device)
		}
	}

	body, ok := envs[1].Response.(map[string]interface{})
	if !ok {
		t.Fatalf("expected identification response body, got %#v", envs[1].Response)
	}
	if body["brand"] != "SimulatorBrand" {
		t.Fatalf("expected brand SimulatorBrand, got %v", body["brand"])
	}
	if body["registered"] != false {
		t.Fatalf("expected registered false on a fresh unit, got %v", body["registered"])
	}
}

func TestHandleFrameMalformedDropped(t *testing.T) {
	sim, sink := newTestSim(t)

	sim.handleFrame([]byte("#10$short"))
	sim.handleFrame([]byte("#12$not-json-at-"))

	if sink.count() != 0 {
		t.Fatalf("expected no reply to malformed frames, got %d", sink.count())
	}
	entries := sim.traffic.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 dropped-frame audit entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Error == "" {
			t.Fatalf("entry %d: expected a recorded drop reason", i)
		}
	}
}

func TestHandleFrameInboundAckProducesNothing(t *testing.T) {
	sim, sink := newTestSim(t)

	sim.handleFrame(requestFrame(t, FunctionAck, "ref-2", nil))

	if sink.count() != 0 {
		t.Fatalf("expected no reply to an inbound ack, got %d envelopes", sink.count())
	}
}

func TestHandleFrameSurvivesUnknownFunction(t *testing.T) {
	sim, sink := newTestSim(t)

	sim.handleFrame(requestFrame(t, "selfDestruct", "ref-3", nil))
	sim.handleFrame(requestFrame(t, FunctionIdentification, "ref-4", nil))

	envs := sink.envelopes(t)
	if len(envs) != 4 {
		t.Fatalf("expected 4 published envelopes, got %d", len(envs))
	}
	errBody, ok := envs[1].Notification.(map[string]interface{})
	if !ok {
		t.Fatalf("expected error notification body, got %#v", envs[1].Notification)
	}
	if errBody["failCode"] != float64(failCodeUnknownFunction) {
		t.Fatalf("expected failCode %d, got %v", failCodeUnknownFunction, errBody["failCode"])
	}
	if _, present := errBody["failDescrition"]; !present {
		t.Fatalf("expected failDescrition field on the wire, got %v", errBody)
	}
	if envs[3].Function != FunctionIdentification {
		t.Fatalf("expected normal service after unknown function, got %q", envs[3].Function)
	}
}

func TestPublishEnvelopeWithoutTransport(t *testing.T) {
	sim := NewMassSim(DefaultConfig())

	err := sim.publishEnvelope(sim.heartbeatEnvelope())
	if err == nil {
		t.Fatal("expected publish to fail with no transport")
	}
}

func TestInjectRequestPublishesExchange(t *testing.T) {
	sim, sink := newTestSim(t)

	err := sim.injectRequest(FunctionWrite, writeRequest{
		Meter:    MeterRef{SerialNumber: "23660088"},
		ObisCode: "0.0.13",
		Value:    "1",
	})
	if err != nil {
		t.Fatalf("injectRequest: %v", err)
	}

	envs := sink.envelopes(t)
	if len(envs) != 2 {
		t.Fatalf("expected ack plus write reply, got %d envelopes", len(envs))
	}
	if envs[0].Function != FunctionAck || envs[1].Function != FunctionWrite {
		t.Fatalf("unexpected exchange %q, %q", envs[0].Function, envs[1].Function)
	}
	if envs[0].ReferenceID == "" || envs[0].ReferenceID != envs[1].ReferenceID {
		t.Fatalf("expected a shared fresh reference id, got %q and %q",
			envs[0].ReferenceID, envs[1].ReferenceID)
	}
}

func TestTransportReady(t *testing.T) {
	sim := NewMassSim(DefaultConfig())
	if sim.transportReady() {
		t.Fatal("expected transport not ready without a sink")
	}
	sim.sink = &captureSink{}
	if !sim.transportReady() {
		t.Fatal("expected transport ready with a sink and no broker session")
	}
}
