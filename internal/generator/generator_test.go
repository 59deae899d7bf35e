package generator

import (
	"strings"
	"testing"
)

func TestParseDistribution(t *testing.T) {
	tests := []struct {
		name    string
		dist    string
		want    map[string]int
		wantErr string
	}{
		{name: "valid", dist: "MAJOR:60, MINOR:40", want: map[string]int{"MAJOR": 60, "MINOR": 40}},
		{name: "trailing comma", dist: "MAJOR:100,", want: map[string]int{"MAJOR": 100}},
		{name: "empty", dist: " ", wantErr: "cannot be empty"},
		{name: "missing percent", dist: "MAJOR", wantErr: "expected KEY:PERCENT"},
		{name: "missing key", dist: ":100", wantErr: "expected KEY:PERCENT"},
		{name: "not a number", dist: "MAJOR:lots", wantErr: "invalid percentage"},
		{name: "out of range", dist: "MAJOR:120", wantErr: "must be 0-100"},
		{name: "wrong total", dist: "MAJOR:50,MINOR:20", wantErr: "sum to 100, got 70"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDistribution(tt.dist)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("ParseDistribution() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDistribution() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseDistribution() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %d, want %d", k, got[k], v)
				}
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "bad severity", cfg: Config{SeverityDist: "MAJOR:10"}},
		{name: "bad source", cfg: Config{SourceDist: "web01"}},
		{name: "bad event", cfg: Config{EventDist: "x:200"}},
		{name: "negative repeat ratio", cfg: Config{RepeatRatio: -0.1}},
		{name: "repeat ratio above one", cfg: Config{RepeatRatio: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestGenerate_FollowsDistribution(t *testing.T) {
	g, err := New(Config{
		Seed:         42,
		SeverityDist: "CRITICAL:100",
		SourceDist:   "web01:100",
		EventDist:    "DiskFull:100",
		GraphURL:     "http://graphs/disk.png",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		a := g.Generate()
		if a.Severity != "CRITICAL" || a.Source != "web01" || a.Event != "DiskFull" {
			t.Fatalf("alert = %s/%s/%s", a.Severity, a.Source, a.Event)
		}
		if a.ID == "" || seen[a.ID] {
			t.Fatalf("alert id %q empty or repeated", a.ID)
		}
		seen[a.ID] = true
		if a.Repeat {
			t.Error("Repeat set with a zero repeat ratio")
		}
		if len(a.Graphs) != 1 || a.Graphs[0] != "http://graphs/disk.png" {
			t.Errorf("Graphs = %v", a.Graphs)
		}
		if len(a.Environment) != 1 || len(a.Service) != 1 {
			t.Errorf("tags = %v / %v", a.Environment, a.Service)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := Config{Seed: 7, RepeatRatio: 0.5}
	g1, _ := New(cfg)
	g2, _ := New(cfg)

	for i := 0; i < 20; i++ {
		a, b := g1.Generate(), g2.Generate()
		if a.Severity != b.Severity || a.Source != b.Source || a.Event != b.Event || a.Repeat != b.Repeat {
			t.Fatalf("alert %d differs between equally seeded generators", i)
		}
	}
}

func TestGenerate_AllRepeats(t *testing.T) {
	g, err := New(Config{Seed: 1, RepeatRatio: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a := g.Generate()
	if !a.Repeat || a.DuplicateCount == nil || *a.DuplicateCount < 1 {
		t.Errorf("Repeat = %v DuplicateCount = %v", a.Repeat, a.DuplicateCount)
	}
}
