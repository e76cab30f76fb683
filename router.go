package main

import (
	"errors"
	"fmt"
	"log"
)

// handlerFunc transforms one inbound request into zero or more outbound
// envelopes. Returned errors of type ValidationError or DuplicateKeyError are
// converted into error notifications by the router; state is left unchanged.
type handlerFunc func(env *Envelope) ([]*Envelope, error)

// Router maps a function name to exactly one handler. Dispatch is a table
// lookup on the envelope's function field; each inbound frame is dispatched
// independently, there is no cross-request ordering or exclusivity.
type Router struct {
	sim      *MassSim
	handlers map[string]handlerFunc
}

func newRouter(sim *MassSim) *Router {
	return &Router{
		sim:      sim,
		handlers: make(map[string]handlerFunc),
	}
}

// Register installs the handler for a function name. Registering the same
// function twice is a programming error.
func (r *Router) Register(function string, handler handlerFunc) {
	if _, exists := r.handlers[function]; exists {
		panic(fmt.Sprintf("router: duplicate handler for function %q", function))
	}
	r.handlers[function] = handler
}

// Dispatch routes one inbound envelope and returns the outbound messages in
// send order: the acknowledgment first, then the handler's own output. An
// unrecognized function still gets the ack plus a generic error notification
// so probing clients never break the link. Inbound acks terminate here; an
// ack must never be acknowledged.
func (r *Router) Dispatch(env *Envelope) []*Envelope {
	if env.Function == FunctionAck {
		log.Printf("ack received for reference %s", env.ReferenceID)
		return nil
	}

	out := []*Envelope{r.sim.ackEnvelope(env.ReferenceID)}

	handler, known := r.handlers[env.Function]
	if !known {
		log.Printf("unhandled function %q (ref %s)", env.Function, env.ReferenceID)
		return append(out, r.sim.errorEnvelope(env.Function, env.ReferenceID,
			failCodeUnknownFunction, fmt.Sprintf("function %q is not supported", env.Function)))
	}

	replies, err := handler(env)
	if err != nil {
		code, description := failureFor(err)
		log.Printf("function %q rejected (ref %s): %s", env.Function, env.ReferenceID, description)
		return append(out, r.sim.errorEnvelope(env.Function, env.ReferenceID, code, description))
	}
	return append(out, replies...)
}

// failureFor maps handler errors onto wire failure codes.
func failureFor(err error) (int, string) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Code, validation.Description
	}
	var duplicate *DuplicateKeyError
	if errors.As(err, &duplicate) {
		return failCodeDuplicateKey, duplicate.Error()
	}
	return failCodeInvalidParameter, err.Error()
}
