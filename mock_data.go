package main

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Synthesized measurement data. Everything here is a pure function of the
// request parameters so a client replaying the same request can verify it
// gets byte-identical data back.

// seedFor derives a stable numeric seed from request parameters.
func seedFor(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// mockReadout synthesizes an IEC-style readout block for a directive.
func mockReadout(directive, meterSerial string) readoutData {
	if meterSerial == "" {
		meterSerial = "23660088"
	}
	seed := seedFor("read", directive, meterSerial)
	energy := 1000 + seed%9000
	fraction := seed % 1000
	return readoutData{
		ID: fmt.Sprintf("/LGZ5\\2ZMG405000b.%s", directive),
		RawData: fmt.Sprintf(
			"0.0.0(%s)\r\n0.9.2(2021-06-22)\r\n0.9.1(10:18:42)\r\n1.8.0(%07d.%03d)\r\n",
			meterSerial, energy, fraction),
	}
}

type logEntry struct {
	IncidentCode int       `json:"incidentCode"`
	Description  string    `json:"description"`
	Date         string    `json:"date"`
	Meter        *MeterRef `json:"meter,omitempty"`
}

// incidentCatalogue is the pool of fake incidents log responses draw from.
var incidentCatalogue = []logEntry{
	{IncidentCode: 278, Description: "cover opened", Meter: &MeterRef{Brand: "EMH", SerialNumber: "12345678"}},
	{IncidentCode: 439, Description: "relay removed"},
	{IncidentCode: 310, Description: "power outage"},
	{IncidentCode: 311, Description: "power restored"},
	{IncidentCode: 290, Description: "magnetic field detected", Meter: &MeterRef{Brand: "EMH", SerialNumber: "12345678"}},
}

// mockLogEntries synthesizes incident log entries for a filter range. The
// same range always yields the same entries.
func mockLogEntries(startDate, endDate string) []logEntry {
	seed := seedFor("log", startDate, endDate)
	count := 2 + int(seed%3)
	date := startDate
	if date == "" {
		date = "2021-06-28 13:55:00"
	}
	entries := make([]logEntry, 0, count)
	for i := 0; i < count; i++ {
		entry := incidentCatalogue[int(seed>>uint(i*8))%len(incidentCatalogue)]
		entry.Date = date
		entries = append(entries, entry)
	}
	return entries
}

type profileRow struct {
	Date      string  `json:"date"`
	ActiveKWh float64 `json:"activeKwh"`
	Voltage   float64 `json:"voltage"`
}

// mockProfileValues synthesizes interval profile rows covering the range at
// the given period. Row values derive from the row timestamp so the series
// is reproducible and monotonic in energy.
func mockProfileValues(start, end time.Time, periodMinutes int) []profileRow {
	step := time.Duration(periodMinutes) * time.Minute
	seed := seedFor("profile", massTime(start), massTime(end))
	base := float64(1000 + seed%500)

	var rows []profileRow
	for ts, i := start, 0; !ts.After(end); ts, i = ts.Add(step), i+1 {
		jitter := float64((seed>>uint(i%32))%100) / 100.0
		rows = append(rows, profileRow{
			Date:      massTime(ts),
			ActiveKWh: base + float64(i)*0.25 + jitter,
			Voltage:   228.0 + jitter*4,
		})
	}
	return rows
}
