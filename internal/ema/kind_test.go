package ema

import "testing"

func TestParseTopic(t *testing.T) {
	for _, tc := range []struct {
		topic   string
		kind    Kind
		station string
		ok      bool
	}{
		{"EMA/ema-01/current/status", CurrentSample, "ema-01", true},
		{"EMA/ema-01/average/status", AverageSample, "ema-01", true},
		{"EMA/ema-02/history/minmax", MinMaxHistory, "ema-02", true},
		{"EMA/ema-02/history/samples", AveragesHistory, "ema-02", true},
		{"EMA/ema-02/history/other", 0, "ema-02", false},
		{"EMA/ema-03/current/statusx", 0, "ema-03", false},
		{"EMA", 0, "", false},
		{"EMA//current/status", 0, "", false},
		{"current/status", 0, "", false},
		{"x/current/status", 0, "", false},
		{"EMA/ema-01/current/status/extra", 0, "", false},
		{"EMA/ema-01/x/current/status", 0, "", false},
	} {
		kind, station, ok := ParseTopic(tc.topic)
		if ok != tc.ok || station != tc.station || (ok && kind != tc.kind) {
			t.Errorf("ParseTopic(%q) = %s, %q, %v; want %s, %q, %v",
				tc.topic, kind, station, ok, tc.kind, tc.station, tc.ok)
		}
	}
}

func TestKindString(t *testing.T) {
	var names []string
	for _, k := range Kinds {
		names = append(names, k.String())
	}
	if got := names[0] + "," + names[1] + "," + names[2] + "," + names[3]; got != "current,average,minmax,samples" {
		t.Errorf("kind names %s", got)
	}
	if Kind(-1).String() != "unknown" || Kind(NumKinds).String() != "unknown" {
		t.Error("out of range kinds must be unknown")
	}
}
