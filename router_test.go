package main

import (
	"encoding/json"
	"testing"
)

// dispatchRequest runs one request through the router without the transport.
func dispatchRequest(t *testing.T, sim *MassSim, function, referenceID string, request interface{}) []*Envelope {
	t.Helper()
	env := &Envelope{Function: function, ReferenceID: referenceID}
	if request != nil {
		body, err := json.Marshal(request)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		env.Request = body
	}
	return sim.router.Dispatch(env)
}

// failureOf asserts the envelope carries a failure notification.
func failureOf(t *testing.T, env *Envelope) failureBody {
	t.Helper()
	fb, ok := env.Notification.(failureBody)
	if !ok {
		t.Fatalf("expected failure notification, got %#v", env.Notification)
	}
	return fb
}

func TestDispatchAckFirst(t *testing.T) {
	sim, _ := newTestSim(t)

	out := dispatchRequest(t, sim, FunctionIdentification, "r1", nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 envelopes, got %d", len(out))
	}
	if out[0].Function != FunctionAck {
		t.Fatalf("expected ack first, got %q", out[0].Function)
	}
	if out[1].Function != FunctionIdentification {
		t.Fatalf("expected identification second, got %q", out[1].Function)
	}
}

func TestDispatchEchoesReferenceID(t *testing.T) {
	sim, _ := newTestSim(t)

	out := dispatchRequest(t, sim, FunctionIdentification, "ref-echo-7", nil)
	for i, env := range out {
		if env.ReferenceID != "ref-echo-7" {
			t.Fatalf("envelope %d: expected reference ref-echo-7, got %q", i, env.ReferenceID)
		}
	}
}

func TestDispatchInboundAckTerminates(t *testing.T) {
	sim, _ := newTestSim(t)

	out := dispatchRequest(t, sim, FunctionAck, "r2", nil)
	if out != nil {
		t.Fatalf("expected no output for an inbound ack, got %d envelopes", len(out))
	}
}

func TestDispatchUnknownFunction(t *testing.T) {
	sim, _ := newTestSim(t)

	out := dispatchRequest(t, sim, "teleport", "r3", nil)
	if len(out) != 2 {
		t.Fatalf("expected ack plus error notification, got %d envelopes", len(out))
	}
	if out[1].Function != "teleport" {
		t.Fatalf("expected function name echoed in error reply, got %q", out[1].Function)
	}
	fb := failureOf(t, out[1])
	if fb.FailCode != failCodeUnknownFunction {
		t.Fatalf("expected failCode %d, got %d", failCodeUnknownFunction, fb.FailCode)
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	sim, _ := newTestSim(t)

	// read without a request body
	out := dispatchRequest(t, sim, FunctionRead, "r4", nil)
	if len(out) != 2 {
		t.Fatalf("expected ack plus error notification, got %d envelopes", len(out))
	}
	fb := failureOf(t, out[1])
	if fb.FailCode != failCodeMissingParameter {
		t.Fatalf("expected failCode %d, got %d", failCodeMissingParameter, fb.FailCode)
	}
}

func TestDispatchMalformedRequestBody(t *testing.T) {
	sim, _ := newTestSim(t)

	env := &Envelope{
		Function:    FunctionRead,
		ReferenceID: "r5",
		Request:     json.RawMessage(`{"directive": 42}`),
	}
	out := sim.router.Dispatch(env)
	if len(out) != 2 {
		t.Fatalf("expected ack plus error notification, got %d envelopes", len(out))
	}
	fb := failureOf(t, out[1])
	if fb.FailCode != failCodeInvalidParameter {
		t.Fatalf("expected failCode %d, got %d", failCodeInvalidParameter, fb.FailCode)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	sim, _ := newTestSim(t)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	sim.router.Register(FunctionRead, sim.handleRead)
}
