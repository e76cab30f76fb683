package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Protocol function names understood by the simulator.
const (
	FunctionAck            = "ack"
	FunctionIdentification = "identification"
	FunctionHeartbeat      = "heartbeat"
	FunctionAlarm          = "alarm"
	FunctionRead           = "read"
	FunctionConfiguration  = "configuration"
	FunctionSchedule       = "schedule"
	FunctionNotification   = "notification"
	FunctionLog            = "log"
	FunctionWrite          = "write"
	FunctionReset          = "reset"
	FunctionFirmwareUpdate = "firmwareUpdate"
	FunctionProfile        = "profile"
	FunctionDirective      = "directive"
	FunctionRelay          = "relay"
)

// massTimeLayout is the timestamp format used throughout the MASS protocol.
const massTimeLayout = "2006-01-02 15:04:05"

func massTime(t time.Time) string {
	return t.Format(massTimeLayout)
}

// DeviceRef is the identity block carried on every envelope.
type DeviceRef struct {
	Flag         string `json:"flag"`
	SerialNumber string `json:"serialNumber"`
}

// MeterRef identifies a meter inside alarm and log bodies.
type MeterRef struct {
	Brand        string `json:"brand,omitempty"`
	SerialNumber string `json:"serialNumber"`
}

// Envelope is the JSON structure carried in every frame, both directions.
// Exactly one of Request, Response or Notification is populated: Request on
// server->device pulls, Response on correlated replies, Notification on
// device->server pushes and confirmations.
type Envelope struct {
	Device        DeviceRef       `json:"device"`
	Function      string          `json:"function"`
	ReferenceID   string          `json:"referenceId"`
	Streaming     bool            `json:"streaming,omitempty"`
	MessageStatus string          `json:"messageStatus,omitempty"`
	Request       json.RawMessage `json:"request,omitempty"`
	Response      interface{}     `json:"response,omitempty"`
	Notification  interface{}     `json:"notification,omitempty"`
}

// failureBody is the error payload on acks and error notifications.
// "failDescrition" is not a mistake here: the protocol document spells the
// field that way and clients parse it verbatim.
type failureBody struct {
	FailCode        int    `json:"failCode"`
	FailDescription string `json:"failDescrition"`
}

// Machine-readable failure codes surfaced to clients on validation errors.
const (
	failCodeMissingParameter = 1001
	failCodeInvalidParameter = 1002
	failCodeDuplicateKey     = 1003
	failCodeUnknownFunction  = 1004
	failCodeUnknownOperation = 1005
)

// ValidationError is a handler-level rejection of a recognized function whose
// request payload is malformed or incomplete. The router converts it into an
// error notification; device state is left unchanged.
type ValidationError struct {
	Code        int
	Description string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Code, e.Description)
}

func missingParameter(field string) *ValidationError {
	return &ValidationError{
		Code:        failCodeMissingParameter,
		Description: fmt.Sprintf("missing required parameter %q", field),
	}
}

func invalidParameter(field, reason string) *ValidationError {
	return &ValidationError{
		Code:        failCodeInvalidParameter,
		Description: fmt.Sprintf("invalid parameter %q: %s", field, reason),
	}
}

// DuplicateKeyError reports a rejected insert into a keyed collection.
type DuplicateKeyError struct {
	Collection string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in %s", e.Key, e.Collection)
}

// newEnvelope builds the common outbound header. The device identity block is
// read from live device state so configuration changes show up in subsequent
// traffic. An empty referenceID mints a fresh id (unsolicited push).
func (sim *MassSim) newEnvelope(function, referenceID string) *Envelope {
	if referenceID == "" {
		referenceID = uuid.New().String()
	}
	identity := sim.device.Identity()
	return &Envelope{
		Device: DeviceRef{
			Flag:         identity.Flag,
			SerialNumber: identity.SerialNumber,
		},
		Function:    function,
		ReferenceID: referenceID,
	}
}

// ackEnvelope is the immediate acknowledgment for a routed request.
func (sim *MassSim) ackEnvelope(referenceID string) *Envelope {
	return sim.newEnvelope(FunctionAck, referenceID)
}

// errorEnvelope is the substantive reply when a request fails validation: the
// function name is echoed and the body carries a failure code instead of data.
func (sim *MassSim) errorEnvelope(function, referenceID string, code int, description string) *Envelope {
	env := sim.newEnvelope(function, referenceID)
	env.Notification = failureBody{FailCode: code, FailDescription: description}
	return env
}
