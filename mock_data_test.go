package main

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSeedForStable(t *testing.T) {
	if seedFor("read", "P.01") != seedFor("read", "P.01") {
		t.Fatal("expected identical parts to produce identical seeds")
	}
	if seedFor("read", "P.01") == seedFor("read", "P.02") {
		t.Fatal("expected different parts to produce different seeds")
	}
	// parts are delimited, not concatenated
	if seedFor("ab", "c") == seedFor("a", "bc") {
		t.Fatal("expected part boundaries to matter")
	}
}

func TestMockReadoutDeterministic(t *testing.T) {
	first := mockReadout("P.01", "23660088")
	second := mockReadout("P.01", "23660088")
	if first != second {
		t.Fatalf("expected identical readouts:\n%+v\n%+v", first, second)
	}
	if !strings.Contains(first.RawData, "0.0.0(23660088)") {
		t.Fatalf("expected serial register in readout, got %q", first.RawData)
	}
	if !strings.HasSuffix(first.ID, "P.01") {
		t.Fatalf("expected directive in readout id, got %q", first.ID)
	}
}

func TestMockReadoutDefaultsSerial(t *testing.T) {
	readout := mockReadout("P.01", "")
	if !strings.Contains(readout.RawData, "0.0.0(23660088)") {
		t.Fatalf("expected fallback serial, got %q", readout.RawData)
	}
}

func TestMockLogEntriesDeterministic(t *testing.T) {
	first := mockLogEntries("2021-06-28 00:00:00", "2021-06-29 00:00:00")
	second := mockLogEntries("2021-06-28 00:00:00", "2021-06-29 00:00:00")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical entries for identical ranges:\n%+v\n%+v", first, second)
	}
	if len(first) < 2 || len(first) > 4 {
		t.Fatalf("expected 2 to 4 entries, got %d", len(first))
	}
	for i, entry := range first {
		if entry.IncidentCode == 0 || entry.Description == "" {
			t.Fatalf("entry %d incomplete: %+v", i, entry)
		}
		if entry.Date != "2021-06-28 00:00:00" {
			t.Fatalf("entry %d: expected filter start date, got %q", i, entry.Date)
		}
	}
}

func TestMockProfileValues(t *testing.T) {
	start := time.Date(2021, 6, 28, 10, 0, 0, 0, time.Local)
	end := time.Date(2021, 6, 28, 12, 0, 0, 0, time.Local)

	rows := mockProfileValues(start, end, 30)
	// inclusive endpoints at 30 minute steps
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[0].Date != "2021-06-28 10:00:00" || rows[4].Date != "2021-06-28 12:00:00" {
		t.Fatalf("unexpected row range %q .. %q", rows[0].Date, rows[4].Date)
	}
	for i, row := range rows {
		if row.ActiveKWh <= 0 || row.Voltage < 220 || row.Voltage > 240 {
			t.Fatalf("row %d out of plausible range: %+v", i, row)
		}
	}

	again := mockProfileValues(start, end, 30)
	if !reflect.DeepEqual(rows, again) {
		t.Fatal("expected identical series for identical parameters")
	}
}

func TestMockProfileSingleInstant(t *testing.T) {
	at := time.Date(2021, 6, 28, 10, 0, 0, 0, time.Local)
	rows := mockProfileValues(at, at, 15)
	if len(rows) != 1 {
		t.Fatalf("expected a single row when start equals end, got %d", len(rows))
	}
}
