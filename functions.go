package main

import (
	"encoding/json"
	"time"
)

// registerFunctions installs the handler table. Heartbeat and alarm are
// deliberately absent: in this simulator they are push-only and originate
// from the scheduler and the trigger surface, never from a client request.
func (sim *MassSim) registerFunctions() {
	sim.router.Register(FunctionIdentification, sim.handleIdentification)
	sim.router.Register(FunctionRead, sim.handleRead)
	sim.router.Register(FunctionConfiguration, sim.handleConfiguration)
	sim.router.Register(FunctionSchedule, sim.handleSchedule)
	sim.router.Register(FunctionNotification, sim.handleNotification)
	sim.router.Register(FunctionLog, sim.handleLog)
	sim.router.Register(FunctionWrite, sim.handleWrite)
	sim.router.Register(FunctionReset, sim.handleReset)
	sim.router.Register(FunctionFirmwareUpdate, sim.handleFirmwareUpdate)
	sim.router.Register(FunctionProfile, sim.handleProfile)
	sim.router.Register(FunctionDirective, sim.handleDirective)
	sim.router.Register(FunctionRelay, sim.handleRelay)
}

// decodeRequest unmarshals the request body into dst, mapping absence and
// malformed JSON onto validation errors.
func decodeRequest(env *Envelope, dst interface{}) error {
	if len(env.Request) == 0 {
		return missingParameter("request")
	}
	if err := json.Unmarshal(env.Request, dst); err != nil {
		return invalidParameter("request", err.Error())
	}
	return nil
}

// ---- identification ----

type serverEndpoint struct {
	IP      string `json:"ip"`
	TCPPort int    `json:"tcpPort"`
	UDPPort int    `json:"udpPort"`
	Primary bool   `json:"primary"`
}

type ntpConfig struct {
	Server string `json:"server"`
	Port   int    `json:"port"`
}

type apnConfig struct {
	User string `json:"user"`
	Pwd  string `json:"pwd"`
}

type commInterface struct {
	ID          int       `json:"id"`
	Type        string    `json:"type"`
	IMEI        string    `json:"imei"`
	PhoneNumber string    `json:"phoneNumber"`
	IP          string    `json:"ip"`
	Port        int       `json:"port"`
	APN         apnConfig `json:"apn"`
	SimID       string    `json:"simId"`
	IMSI        string    `json:"imsi"`
}

type serialPortInfo struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Port int    `json:"port"`
}

type ioInterface struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type identificationResponse struct {
	Registered              bool             `json:"registered"`
	Brand                   string           `json:"brand"`
	Model                   string           `json:"model"`
	ProtocolVersion         string           `json:"protocolVersion"`
	ManufactureDate         string           `json:"manufactureDate"`
	Firmware                string           `json:"firmware"`
	Signal                  int              `json:"signal"`
	DeviceDate              string           `json:"deviceDate"`
	DaylightSaving          bool             `json:"daylightSaving"`
	Timezone                string           `json:"timezone"`
	RestartPeriod           int              `json:"restartPeriod"`
	NetworkID               string           `json:"networkId"`
	Servers                 []serverEndpoint `json:"servers"`
	NTP                     ntpConfig        `json:"ntp"`
	IPWhiteList             []string         `json:"ipWhiteList"`
	RetryInterval           int              `json:"retryInterval"`
	RetryCount              int              `json:"retryCount"`
	CommunicationInterfaces []commInterface  `json:"communicationInterfaces"`
	SerialPorts             []serialPortInfo `json:"serialPorts"`
	IOInterfaces            []ioInterface    `json:"ioInterfaces"`
	Modules                 []string         `json:"modules"`
	Meters                  []Meter          `json:"meters"`
	Schedules               []Schedule       `json:"schedules"`
}

// identificationEnvelope builds the full identity report. Called with the
// request's reference id on a pull, or with an empty id for the push sent
// right after the transport connects.
func (sim *MassSim) identificationEnvelope(referenceID string) *Envelope {
	snap := sim.device.Snapshot()
	env := sim.newEnvelope(FunctionIdentification, referenceID)
	env.Response = identificationResponse{
		Registered:      snap.Telemetry.Registered,
		Brand:           snap.Identity.Brand,
		Model:           snap.Identity.Model,
		ProtocolVersion: snap.Identity.ProtocolVersion,
		ManufactureDate: snap.Identity.ManufactureDate,
		Firmware:        snap.Identity.Firmware,
		Signal:          snap.Telemetry.Signal,
		DeviceDate:      massTime(snap.Telemetry.DeviceDate),
		DaylightSaving:  true,
		Timezone:        "+03:00",
		RestartPeriod:   8,
		Servers: []serverEndpoint{
			{IP: "123.45.68.10", TCPPort: 1234, UDPPort: 4567, Primary: true},
		},
		IPWhiteList:   []string{"123.45.68.10"},
		RetryInterval: 10,
		RetryCount:    3,
		CommunicationInterfaces: []commInterface{
			{
				ID:          1,
				Type:        "gsm",
				IMEI:        "123456789012345",
				PhoneNumber: "5012345678",
				IP:          "123.45.68.9",
				Port:        3030,
				APN:         apnConfig{User: "osos"},
			},
		},
		SerialPorts: []serialPortInfo{
			{ID: 1, Type: "rs485", Name: "rs485-1", Port: 7000},
			{ID: 2, Type: "rs485", Name: "rs485-2", Port: 7001},
			{ID: 3, Type: "rs232", Name: "rs232", Port: 7002},
		},
		IOInterfaces: []ioInterface{
			{ID: 1, Type: "relay", Name: "relay-1"},
			{ID: 2, Type: "relay", Name: "relay-2"},
			{ID: 3, Type: "dryContact", Name: "dry-1"},
			{ID: 4, Type: "digitalInput", Name: "digitalInput-1"},
			{ID: 5, Type: "digitalInput", Name: "digitalInput-2"},
		},
		Modules:   []string{},
		Meters:    snap.Meters,
		Schedules: snap.Schedules,
	}
	return env
}

func (sim *MassSim) handleIdentification(env *Envelope) ([]*Envelope, error) {
	return []*Envelope{sim.identificationEnvelope(env.ReferenceID)}, nil
}

// ---- read ----

type readRequest struct {
	Directive string    `json:"directive"`
	Meter     *MeterRef `json:"meter,omitempty"`
}

type readoutData struct {
	ID      string `json:"id"`
	RawData string `json:"rawData"`
}

type readResponse struct {
	ReadDate string      `json:"readDate"`
	Data     readoutData `json:"data"`
}

func (sim *MassSim) handleRead(env *Envelope) ([]*Envelope, error) {
	var req readRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	if req.Directive == "" {
		return nil, missingParameter("directive")
	}
	meterSerial := ""
	if req.Meter != nil {
		meterSerial = req.Meter.SerialNumber
	}

	reply := sim.newEnvelope(FunctionRead, env.ReferenceID)
	reply.Response = readResponse{
		ReadDate: massTime(time.Now()),
		Data:     mockReadout(req.Directive, meterSerial),
	}
	return []*Envelope{reply}, nil
}

// ---- configuration ----

type configurationRequest struct {
	Registered *bool   `json:"registered,omitempty"`
	DeviceDate *string `json:"deviceDate,omitempty"`
	Signal     *int    `json:"signal,omitempty"`
	CPUTemp    *int    `json:"cpuTemp,omitempty"`
}

type changeNotification struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Changed []string `json:"changed"`
	Date    string   `json:"date"`
}

func (sim *MassSim) handleConfiguration(env *Envelope) ([]*Envelope, error) {
	var req configurationRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}

	update := TelemetryUpdate{
		Registered: req.Registered,
		Signal:     req.Signal,
		CPUTemp:    req.CPUTemp,
	}
	if req.DeviceDate != nil {
		parsed, err := time.ParseInLocation(massTimeLayout, *req.DeviceDate, time.Local)
		if err != nil {
			return nil, invalidParameter("deviceDate", "expected format "+massTimeLayout)
		}
		update.DeviceDate = &parsed
	}

	changed := sim.device.UpdateTelemetry(update)
	if len(changed) == 0 {
		return nil, missingParameter("configuration fields")
	}

	reply := sim.newEnvelope(FunctionConfiguration, env.ReferenceID)
	reply.Notification = changeNotification{
		Type:    "info",
		Message: "configuration updated",
		Changed: changed,
		Date:    massTime(time.Now()),
	}
	return []*Envelope{reply}, nil
}

// ---- schedule ----

type scheduleRequest struct {
	Operation string     `json:"operation"`
	Schedules []Schedule `json:"schedules,omitempty"`
	Filter    struct {
		ID string `json:"id"`
	} `json:"filter,omitempty"`
}

type scheduleListResponse struct {
	Schedules []Schedule `json:"schedules"`
}

func (sim *MassSim) handleSchedule(env *Envelope) ([]*Envelope, error) {
	var req scheduleRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}

	switch req.Operation {
	case "add":
		if len(req.Schedules) == 0 {
			return nil, missingParameter("schedules")
		}
		for _, s := range req.Schedules {
			if s.ID == "" {
				return nil, missingParameter("schedules[].id")
			}
		}
		sim.device.AddSchedules(req.Schedules)
	case "list":
		// read-only
	case "remove":
		if req.Filter.ID == "" {
			return nil, missingParameter("filter.id")
		}
		sim.device.RemoveSchedule(req.Filter.ID)
	case "":
		return nil, missingParameter("operation")
	default:
		return nil, &ValidationError{
			Code:        failCodeUnknownOperation,
			Description: "unknown schedule operation " + req.Operation,
		}
	}

	reply := sim.newEnvelope(FunctionSchedule, env.ReferenceID)
	reply.Response = scheduleListResponse{Schedules: sim.device.Schedules()}
	return []*Envelope{reply}, nil
}

// ---- notification ----

type notificationRequest struct {
	Operation     string             `json:"operation"`
	Notifications []NotificationRule `json:"notifications,omitempty"`
	Filter        struct {
		ID string `json:"id"`
	} `json:"filter,omitempty"`
}

type notificationListResponse struct {
	Notifications []NotificationRule `json:"notifications"`
}

func (sim *MassSim) handleNotification(env *Envelope) ([]*Envelope, error) {
	var req notificationRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}

	switch req.Operation {
	case "add":
		if len(req.Notifications) == 0 {
			return nil, missingParameter("notifications")
		}
		for _, n := range req.Notifications {
			if n.ID == "" {
				return nil, missingParameter("notifications[].id")
			}
		}
		sim.device.AddNotifications(req.Notifications)
	case "list":
		// read-only
	case "remove":
		if req.Filter.ID == "" {
			return nil, missingParameter("filter.id")
		}
		sim.device.RemoveNotification(req.Filter.ID)
	case "":
		return nil, missingParameter("operation")
	default:
		return nil, &ValidationError{
			Code:        failCodeUnknownOperation,
			Description: "unknown notification operation " + req.Operation,
		}
	}

	reply := sim.newEnvelope(FunctionNotification, env.ReferenceID)
	reply.Response = notificationListResponse{Notifications: sim.device.Notifications()}
	return []*Envelope{reply}, nil
}

// ---- log ----

type logRequest struct {
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

func (sim *MassSim) handleLog(env *Envelope) ([]*Envelope, error) {
	var req logRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	for field, value := range map[string]string{"startDate": req.StartDate, "endDate": req.EndDate} {
		if value == "" {
			continue
		}
		if _, err := time.ParseInLocation(massTimeLayout, value, time.Local); err != nil {
			return nil, invalidParameter(field, "expected format "+massTimeLayout)
		}
	}

	reply := sim.newEnvelope(FunctionLog, env.ReferenceID)
	reply.Response = mockLogEntries(req.StartDate, req.EndDate)
	return []*Envelope{reply}, nil
}

// ---- write ----

type writeRequest struct {
	Meter    MeterRef `json:"meter"`
	ObisCode string   `json:"obisCode"`
	Value    string   `json:"value"`
}

type writeResponse struct {
	Result    string   `json:"result"`
	Meter     MeterRef `json:"meter"`
	ObisCode  string   `json:"obisCode"`
	Value     string   `json:"value"`
	WriteDate string   `json:"writeDate"`
}

func (sim *MassSim) handleWrite(env *Envelope) ([]*Envelope, error) {
	var req writeRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	if req.Meter.SerialNumber == "" {
		return nil, missingParameter("meter.serialNumber")
	}
	if req.ObisCode == "" {
		return nil, missingParameter("obisCode")
	}
	if req.Value == "" {
		return nil, missingParameter("value")
	}

	// Simulated pass-through: the register write is acknowledged but nothing
	// in device state changes.
	reply := sim.newEnvelope(FunctionWrite, env.ReferenceID)
	reply.Response = writeResponse{
		Result:    "success",
		Meter:     req.Meter,
		ObisCode:  req.ObisCode,
		Value:     req.Value,
		WriteDate: massTime(time.Now()),
	}
	return []*Envelope{reply}, nil
}

// ---- reset ----

type infoNotification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

func (sim *MassSim) handleReset(env *Envelope) ([]*Envelope, error) {
	sim.device.ResetTelemetry()

	reply := sim.newEnvelope(FunctionReset, env.ReferenceID)
	reply.Notification = infoNotification{
		Type:    "info",
		Message: "telemetry reset to defaults",
		Date:    massTime(time.Now()),
	}
	return []*Envelope{reply}, nil
}

// ---- firmwareUpdate ----

type firmwareUpdateRequest struct {
	Version string `json:"version"`
}

type firmwareNotification struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	PreviousVersion string `json:"previousVersion"`
	Version         string `json:"version"`
	Date            string `json:"date"`
}

func (sim *MassSim) handleFirmwareUpdate(env *Envelope) ([]*Envelope, error) {
	var req firmwareUpdateRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	if req.Version == "" {
		return nil, missingParameter("version")
	}

	previous := sim.device.SetFirmware(req.Version)

	reply := sim.newEnvelope(FunctionFirmwareUpdate, env.ReferenceID)
	reply.Notification = firmwareNotification{
		Type:            "info",
		Message:         "firmware updated",
		PreviousVersion: previous,
		Version:         req.Version,
		Date:            massTime(time.Now()),
	}
	return []*Envelope{reply}, nil
}

// ---- profile ----

type profileRequest struct {
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	PeriodMinutes int    `json:"periodMinutes,omitempty"`
}

type profileResponse struct {
	StartDate     string       `json:"startDate"`
	EndDate       string       `json:"endDate"`
	PeriodMinutes int          `json:"periodMinutes"`
	Values        []profileRow `json:"values"`
}

func (sim *MassSim) handleProfile(env *Envelope) ([]*Envelope, error) {
	var req profileRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	if req.StartDate == "" {
		return nil, missingParameter("startDate")
	}
	if req.EndDate == "" {
		return nil, missingParameter("endDate")
	}
	start, err := time.ParseInLocation(massTimeLayout, req.StartDate, time.Local)
	if err != nil {
		return nil, invalidParameter("startDate", "expected format "+massTimeLayout)
	}
	end, err := time.ParseInLocation(massTimeLayout, req.EndDate, time.Local)
	if err != nil {
		return nil, invalidParameter("endDate", "expected format "+massTimeLayout)
	}
	if end.Before(start) {
		return nil, invalidParameter("endDate", "must not precede startDate")
	}
	period := req.PeriodMinutes
	if period <= 0 {
		period = 15
	}

	reply := sim.newEnvelope(FunctionProfile, env.ReferenceID)
	reply.Response = profileResponse{
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		PeriodMinutes: period,
		Values:        mockProfileValues(start, end, period),
	}
	return []*Envelope{reply}, nil
}

// ---- directive ----

type directiveResponse struct {
	Status      string `json:"status"`
	Description string `json:"description"`
}

func (sim *MassSim) handleDirective(env *Envelope) ([]*Envelope, error) {
	// Placeholder acknowledgment until the directive catalogue is specified.
	reply := sim.newEnvelope(FunctionDirective, env.ReferenceID)
	reply.Response = directiveResponse{
		Status:      "accepted",
		Description: "directive accepted",
	}
	return []*Envelope{reply}, nil
}

// ---- relay ----

type relayRequest struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type relayNotification struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Message string `json:"message"`
	Date    string `json:"date"`
}

func (sim *MassSim) handleRelay(env *Envelope) ([]*Envelope, error) {
	var req relayRequest
	if err := decodeRequest(env, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, missingParameter("name")
	}
	if req.State != "on" && req.State != "off" {
		return nil, invalidParameter("state", `must be "on" or "off"`)
	}

	// Pass-through: the relay lives outside the simulated unit.
	reply := sim.newEnvelope(FunctionRelay, env.ReferenceID)
	reply.Notification = relayNotification{
		Type:    "relay",
		Name:    req.Name,
		State:   req.State,
		Message: "relay state changed",
		Date:    massTime(time.Now()),
	}
	return []*Envelope{reply}, nil
}

// ---- pushes (heartbeat, alarm) ----

type heartbeatBody struct {
	Signal     int    `json:"signal"`
	DeviceDate string `json:"deviceDate"`
	CPUTemp    int    `json:"cpuTemp"`
}

// heartbeatEnvelope builds an unsolicited heartbeat from current telemetry.
func (sim *MassSim) heartbeatEnvelope() *Envelope {
	telemetry := sim.device.Telemetry()
	env := sim.newEnvelope(FunctionHeartbeat, "")
	env.Notification = heartbeatBody{
		Signal:     telemetry.Signal,
		DeviceDate: massTime(time.Now()),
		CPUTemp:    telemetry.CPUTemp,
	}
	return env
}

// AlarmPush is an externally supplied alarm descriptor.
type AlarmPush struct {
	Type         string
	Level        string
	IncidentCode int
	Description  string
	Meter        *MeterRef
}

type alarmBody struct {
	Type         string    `json:"type"`
	Level        string    `json:"level"`
	IncidentCode int       `json:"incidentCode"`
	Description  string    `json:"description"`
	Date         string    `json:"date"`
	Meter        *MeterRef `json:"meter,omitempty"`
}

// alarmEnvelope builds an unsolicited alarm push. The body is an array on the
// wire; the protocol allows batching even though the simulator sends one.
func (sim *MassSim) alarmEnvelope(alarm AlarmPush) *Envelope {
	env := sim.newEnvelope(FunctionAlarm, "")
	env.MessageStatus = "success"
	env.Notification = []alarmBody{{
		Type:         alarm.Type,
		Level:        alarm.Level,
		IncidentCode: alarm.IncidentCode,
		Description:  alarm.Description,
		Date:         massTime(time.Now()),
		Meter:        alarm.Meter,
	}}
	return env
}
