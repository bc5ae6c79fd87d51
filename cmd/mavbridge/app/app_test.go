package app

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/autopeer-io/mavbridge/pkg/log"
)

func TestBindLibraryLoggers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bindLibraryLoggers(log.NewFromZap(zap.New(core)).Logr())
	t.Cleanup(klog.ClearLogger)

	klog.InfoS("Waiting for condition", "step", 1)
	ctrllog.Log.WithName("wait").Info("Backing off")

	tests := []struct {
		message string
		logger  string
	}{
		{"Waiting for condition", "klog"},
		{"Backing off", "wait"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			entries := logs.FilterMessage(tt.message).All()
			if len(entries) != 1 {
				t.Fatalf("got %d entries for %q, want 1", len(entries), tt.message)
			}
			if entries[0].LoggerName != tt.logger {
				t.Errorf("logger = %q, want %q", entries[0].LoggerName, tt.logger)
			}
		})
	}
}
