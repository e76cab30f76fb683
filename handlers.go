package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
)

// HTTP control surface. Every trigger endpoint maps 1:1 onto a protocol
// handler or the heartbeat scheduler and reuses the normal publish path, so
// manually pushed messages are indistinguishable from protocol-driven ones.

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealth reports process and transport liveness.
func (sim *MassSim) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !sim.transportUp() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"mqtt_connected": sim.transportUp(),
		"device":         fmt.Sprintf("%s/%s", sim.cfg.Device.Flag, sim.cfg.Device.Serial),
		"broker":         sim.cfg.MQTT.Broker,
		"version":        MassSimVersion,
	})
}

// handleDeviceState serves a read-only snapshot summary.
func (sim *MassSim) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	snap := sim.device.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registered":    snap.Telemetry.Registered,
		"signal":        snap.Telemetry.Signal,
		"cpu_temp":      snap.Telemetry.CPUTemp,
		"firmware":      snap.Identity.Firmware,
		"meters":        snap.Meters,
		"schedules":     snap.Schedules,
		"notifications": snap.Notifications,
	})
}

// handleDeviceConfig applies a partial telemetry update.
func (sim *MassSim) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var request struct {
		Signal  *int `json:"signal"`
		CPUTemp *int `json:"cpu_temp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	changed := sim.device.UpdateTelemetry(TelemetryUpdate{
		Signal:  request.Signal,
		CPUTemp: request.CPUTemp,
	})
	log.Printf("⚙️  Telemetry updated via API: %v", changed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "updated",
		"changed": changed,
	})
}

// handleMeterAdd attaches a meter descriptor to the simulated unit. The
// duplicate-serial invariant holds here exactly as it does on the wire.
func (sim *MassSim) handleMeterAdd(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var meter Meter
	if err := json.NewDecoder(r.Body).Decode(&meter); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if meter.SerialNumber == "" {
		http.Error(w, "serialNumber required", http.StatusBadRequest)
		return
	}

	if err := sim.device.AddMeter(meter); err != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	log.Printf("🔌 Meter added: %s (%s)", meter.SerialNumber, meter.Brand)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "added",
		"meters": len(sim.device.Meters()),
	})
}

// handleTriggerHeartbeat publishes one heartbeat immediately.
func (sim *MassSim) handleTriggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if !sim.transportReady() {
		http.Error(w, "MQTT not connected", http.StatusServiceUnavailable)
		return
	}
	sim.heartbeat.Beat()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "sent"})
}

// handleTriggerAlarm publishes an alarm push with an externally supplied
// descriptor. Alarms are push-only; no client request can produce one.
func (sim *MassSim) handleTriggerAlarm(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if !sim.transportReady() {
		http.Error(w, "MQTT not connected", http.StatusServiceUnavailable)
		return
	}

	var request struct {
		AlarmType    string `json:"alarm_type"`
		Level        string `json:"level"`
		IncidentCode int    `json:"incident_code"`
		Description  string `json:"description"`
		MeterSerial  string `json:"meter_serial"`
		MeterBrand   string `json:"meter_brand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if request.AlarmType == "" {
		request.AlarmType = "alarm"
	}
	if request.Level == "" {
		request.Level = "warning"
	}

	alarm := AlarmPush{
		Type:         request.AlarmType,
		Level:        request.Level,
		IncidentCode: request.IncidentCode,
		Description:  request.Description,
	}
	if request.MeterSerial != "" {
		brand := request.MeterBrand
		if brand == "" {
			brand = "Unknown"
		}
		alarm.Meter = &MeterRef{Brand: brand, SerialNumber: request.MeterSerial}
	}

	if err := sim.publishEnvelope(sim.alarmEnvelope(alarm)); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	log.Printf("🚨 Alarm pushed: %s", request.Description)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "sent"})
}

// handleTriggerWrite synthesizes a write exchange through the normal router.
func (sim *MassSim) handleTriggerWrite(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var request struct {
		MeterSerial string `json:"meter_serial"`
		ObisCode    string `json:"obis_code"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	err := sim.injectRequest(FunctionWrite, writeRequest{
		Meter:    MeterRef{SerialNumber: request.MeterSerial},
		ObisCode: request.ObisCode,
		Value:    request.Value,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": err == nil,
	})
}

// handleTriggerReset runs the reset handler and publishes its confirmation.
func (sim *MassSim) handleTriggerReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	err := sim.injectRequest(FunctionReset, struct{}{})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": err == nil,
	})
}

// handleTriggerRelay synthesizes a relay exchange through the normal router.
func (sim *MassSim) handleTriggerRelay(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var request struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	err := sim.injectRequest(FunctionRelay, relayRequest{
		Name:  request.Name,
		State: request.State,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": err == nil,
	})
}

// handleTraffic serves the recent wire audit trail.
func (sim *MassSim) handleTraffic(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, sim.traffic.Recent(limit))
}
