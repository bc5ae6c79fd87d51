package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("link down")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"string-int-bool", []any{"topic", "x", "pwm", 1700, "applied", true}, 3},
		{"time type", []any{"t", now}, 1},
		{"float type", []any{"pct", 50.0}, 1},
		{"bytes", []any{"payload", []byte("xyz")}, 1},
		{"error only", []any{err}, 1},
		{"multiple errors", []any{err, errors.New("again")}, 2},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value", true, 99}, 2},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, 2},
		{"map value", []any{"a", map[string]string{"rudder": "port"}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != tt.want {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), tt.want, fields)
			}
			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestPrinterWritesDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewPrinter(NewFromZap(zap.New(core)), "paho")

	p.Printf("connecting to %s\n", "tcp://localhost:1883")
	p.Println("connected", 1)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "connecting to tcp://localhost:1883" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	if entries[1].Message != "connected 1" {
		t.Errorf("unexpected message %q", entries[1].Message)
	}
	if entries[0].LoggerName != "paho" || entries[0].Level != zapcore.DebugLevel {
		t.Errorf("unexpected entry %+v", entries[0].Entry)
	}
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults should validate, got %v", errs)
	}

	o.Level = "verbose"
	o.Format = "xml"
	if errs := o.Validate(); len(errs) != 2 {
		t.Fatalf("got %d errors, want 2", len(errs))
	}
}

func TestLogrAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewFromZap(zap.New(core)).WithName("bridge")

	l.Logr().Info("from logr", "kind", "VFR_HUD")

	if logs.Len() != 1 {
		t.Fatalf("got %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["kind"]; got != "VFR_HUD" {
		t.Errorf("kind = %v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"json", func(o *Options) { o.Format = "json"; o.Name = "mavbridge" }, false},
		{"bad level", func(o *Options) { o.Level = "loud" }, true},
		{"bad format", func(o *Options) { o.Format = "xml" }, true},
		{"unwritable output", func(o *Options) { o.OutputPaths = []string{"/nonexistent/mavbridge/out.log"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			l, err := New(o)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && l == nil {
				t.Fatal("New() returned a nil logger")
			}
		})
	}
}
