package main

import "testing"

func TestBusyIndicator(t *testing.T) {
	var b busyIndicator
	var events []bool
	b.OnChange(func(v bool) { events = append(events, v) })

	if b.Busy() {
		t.Fatal("zero value should be idle")
	}
	b.begin()
	if !b.Busy() {
		t.Error("Busy() = false after begin")
	}
	b.end()
	if b.Busy() {
		t.Error("Busy() = true after end")
	}
	if len(events) != 2 || !events[0] || events[1] {
		t.Errorf("events = %v, want one notification per transition", events)
	}
}

func TestBusyIndicator_Overlapping(t *testing.T) {
	var b busyIndicator
	var events []bool
	b.OnChange(func(v bool) { events = append(events, v) })

	b.begin()
	b.begin()
	b.end()
	if !b.Busy() {
		t.Error("busy cleared while a cycle is still in flight")
	}
	b.end()
	if b.Busy() {
		t.Error("busy after every cycle ended")
	}
	if len(events) != 2 || !events[0] || events[1] {
		t.Errorf("events = %v, want [true false]", events)
	}
}

func TestBusyIndicator_UnbalancedEnd(t *testing.T) {
	var b busyIndicator
	b.end()
	b.begin()
	if !b.Busy() {
		t.Error("stray end should not leave the counter negative")
	}
	b.end()
}

func TestBusyIndicator_NoObserver(t *testing.T) {
	var b busyIndicator
	b.begin()
	b.end()
}
