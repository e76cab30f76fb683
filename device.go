package main

import (
	"sync"
	"time"
)

// Identity holds the fields reported in the envelope header and the
// identification body. Everything except Firmware is immutable after init;
// Firmware changes only through the firmwareUpdate function.
type Identity struct {
	Flag            string `json:"flag"`
	SerialNumber    string `json:"serialNumber"`
	Brand           string `json:"brand"`
	Model           string `json:"model"`
	ProtocolVersion string `json:"protocolVersion"`
	Firmware        string `json:"firmware"`
	ManufactureDate string `json:"manufactureDate"`
}

// Telemetry is the mutable runtime state reported by heartbeat and
// identification messages.
type Telemetry struct {
	Registered bool      `json:"registered"`
	Signal     int       `json:"signal"`
	CPUTemp    int       `json:"cpuTemp"`
	DeviceDate time.Time `json:"-"`
}

// Meter describes a meter attached to one of the unit's serial ports.
type Meter struct {
	Protocol     string `json:"protocol"`
	Type         string `json:"type"`
	Brand        string `json:"brand"`
	SerialNumber string `json:"serialNumber"`
	SerialPort   string `json:"serialPort"`
	InitBaud     int    `json:"initBaud"`
	FixBaud      bool   `json:"fixBaud"`
	Frame        string `json:"frame"`
}

// Schedule is a readout schedule entry. The id is opaque to the simulator;
// it only has to be unique enough for remove-by-id.
type Schedule struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Directive string `json:"directive,omitempty"`
	Period    string `json:"period,omitempty"`
	StartDate string `json:"startDate,omitempty"`
}

// NotificationRule is a client-registered notification subscription.
type NotificationRule struct {
	ID           string `json:"id"`
	Type         string `json:"type,omitempty"`
	IncidentCode int    `json:"incidentCode,omitempty"`
	Target       string `json:"target,omitempty"`
}

// TelemetryUpdate is a partial telemetry mutation: only non-nil fields are
// applied, everything else keeps its prior value.
type TelemetryUpdate struct {
	Registered *bool
	Signal     *int
	CPUTemp    *int
	DeviceDate *time.Time
}

// Snapshot is a read-only copy of the full device state for reporting.
type Snapshot struct {
	Identity      Identity
	Telemetry     Telemetry
	Meters        []Meter
	Schedules     []Schedule
	Notifications []NotificationRule
}

// SimDevice is the in-memory model of the simulated communication unit.
// One RWMutex covers every field so the MQTT callback, the heartbeat ticker
// and the HTTP triggers can mutate it concurrently without interleaving.
type SimDevice struct {
	mutex sync.RWMutex

	identity         Identity
	telemetry        Telemetry
	defaultTelemetry Telemetry

	meters        []Meter
	schedules     []Schedule
	notifications []NotificationRule
}

// NewSimDevice creates the process-lifetime device state with defaults taken
// from configuration.
func NewSimDevice(cfg *Config) *SimDevice {
	defaults := Telemetry{
		Registered: false,
		Signal:     cfg.Telemetry.Signal,
		CPUTemp:    cfg.Telemetry.CPUTemp,
		DeviceDate: time.Now(),
	}
	return &SimDevice{
		identity: Identity{
			Flag:            cfg.Device.Flag,
			SerialNumber:    cfg.Device.Serial,
			Brand:           cfg.Device.Brand,
			Model:           cfg.Device.Model,
			ProtocolVersion: cfg.Device.ProtocolVersion,
			Firmware:        cfg.Device.Firmware,
			ManufactureDate: cfg.Device.ManufactureDate,
		},
		telemetry:        defaults,
		defaultTelemetry: defaults,
	}
}

// Identity returns the current identity fields.
func (d *SimDevice) Identity() Identity {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.identity
}

// Telemetry returns the current telemetry fields.
func (d *SimDevice) Telemetry() Telemetry {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.telemetry
}

// Snapshot returns a deep copy of the full state for reporting.
func (d *SimDevice) Snapshot() Snapshot {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	snap := Snapshot{
		Identity:      d.identity,
		Telemetry:     d.telemetry,
		Meters:        make([]Meter, len(d.meters)),
		Schedules:     make([]Schedule, len(d.schedules)),
		Notifications: make([]NotificationRule, len(d.notifications)),
	}
	copy(snap.Meters, d.meters)
	copy(snap.Schedules, d.schedules)
	copy(snap.Notifications, d.notifications)
	return snap
}

// UpdateTelemetry applies a partial update and returns the names of the
// fields that changed, in a fixed order.
func (d *SimDevice) UpdateTelemetry(update TelemetryUpdate) []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var changed []string
	if update.Registered != nil {
		d.telemetry.Registered = *update.Registered
		changed = append(changed, "registered")
	}
	if update.Signal != nil {
		d.telemetry.Signal = *update.Signal
		changed = append(changed, "signal")
	}
	if update.CPUTemp != nil {
		d.telemetry.CPUTemp = *update.CPUTemp
		changed = append(changed, "cpuTemp")
	}
	if update.DeviceDate != nil {
		d.telemetry.DeviceDate = *update.DeviceDate
		changed = append(changed, "deviceDate")
	}
	return changed
}

// ResetTelemetry restores the configured telemetry defaults.
func (d *SimDevice) ResetTelemetry() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.telemetry = d.defaultTelemetry
	d.telemetry.DeviceDate = time.Now()
}

// SetFirmware replaces the firmware version and returns the previous one.
func (d *SimDevice) SetFirmware(version string) string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	previous := d.identity.Firmware
	d.identity.Firmware = version
	return previous
}

// AddMeter appends a meter descriptor. Meter serial numbers are unique within
// the collection; adding a duplicate fails and leaves the collection unchanged.
func (d *SimDevice) AddMeter(meter Meter) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, existing := range d.meters {
		if existing.SerialNumber == meter.SerialNumber {
			return &DuplicateKeyError{Collection: "meters", Key: meter.SerialNumber}
		}
	}
	d.meters = append(d.meters, meter)
	return nil
}

// Meters returns a copy of the meter collection in insertion order.
func (d *SimDevice) Meters() []Meter {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	meters := make([]Meter, len(d.meters))
	copy(meters, d.meters)
	return meters
}

// AddSchedules appends schedule entries in the order given.
func (d *SimDevice) AddSchedules(entries []Schedule) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.schedules = append(d.schedules, entries...)
}

// Schedules returns a copy of the schedule collection in insertion order.
func (d *SimDevice) Schedules() []Schedule {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	schedules := make([]Schedule, len(d.schedules))
	copy(schedules, d.schedules)
	return schedules
}

// RemoveSchedule removes the schedule with the given id. Removal is
// idempotent: a missing id is not an error.
func (d *SimDevice) RemoveSchedule(id string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	kept := d.schedules[:0]
	for _, s := range d.schedules {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	d.schedules = kept
}

// AddNotifications appends notification rules in the order given.
func (d *SimDevice) AddNotifications(rules []NotificationRule) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.notifications = append(d.notifications, rules...)
}

// Notifications returns a copy of the notification rules in insertion order.
func (d *SimDevice) Notifications() []NotificationRule {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	rules := make([]NotificationRule, len(d.notifications))
	copy(rules, d.notifications)
	return rules
}

// RemoveNotification removes the rule with the given id, idempotently.
func (d *SimDevice) RemoveNotification(id string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	kept := d.notifications[:0]
	for _, n := range d.notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	d.notifications = kept
}
