package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
)

func TestWrapEventPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	m := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"enter_b": WrapEvent(func(ctx context.Context, e *fsm.Event) error { return boom }),
		},
	)

	if err := m.Event(context.Background(), "go"); !errors.Is(err, boom) {
		t.Errorf("Event() error = %v, want %v", err, boom)
	}
}

func TestIsNoop(t *testing.T) {
	m := fsm.NewFSM("a", fsm.Events{{Name: "stay", Src: []string{"a"}, Dst: "a"}}, fsm.Callbacks{})

	err := m.Event(context.Background(), "stay")
	if !IsNoop(err) {
		t.Errorf("IsNoop(%v) = false, want true", err)
	}
	if IsNoop(errors.New("other")) {
		t.Error("IsNoop(other) = true")
	}
}
