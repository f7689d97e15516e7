package interview

import (
	"errors"
	"testing"

	"github.com/Sangini-spec/InterVue-X/internal/capture"
	"github.com/Sangini-spec/InterVue-X/internal/playback"
	audiomock "github.com/Sangini-spec/InterVue-X/pkg/audio/mock"
	s2smock "github.com/Sangini-spec/InterVue-X/pkg/provider/s2s/mock"
)

// panickyHandle is a session whose Close panics.
type panickyHandle struct{ *s2smock.Session }

func (panickyHandle) Close() error { panic("close exploded") }

func acquired(t *testing.T) (*Engine, *s2smock.Session, *audiomock.InputDevice, *audiomock.OutputDevice) {
	t.Helper()
	sess := s2smock.NewSession()
	mic := &audiomock.InputDevice{}
	spk := &audiomock.OutputDevice{}

	sched := playback.New(playback.NewClock(spk.SampleRate()))
	if err := spk.Start(sched); err != nil {
		t.Fatalf("speaker Start: %v", err)
	}
	pipe := capture.New(mic, sess)
	if err := pipe.Start(); err != nil {
		t.Fatalf("capture Start: %v", err)
	}
	e := &Engine{
		handle: sess,
		out:    spk,
		sched:  sched,
		pipe:   pipe,
	}
	return e, sess, mic, spk
}

func TestTeardown_Idempotent(t *testing.T) {
	t.Parallel()

	e, sess, mic, spk := acquired(t)
	e.teardown()
	e.teardown()

	if sess.Closes() != 1 {
		t.Errorf("transport Close calls = %d, want 1", sess.Closes())
	}
	if mic.CallCountClose != 1 {
		t.Errorf("microphone Close calls = %d, want 1", mic.CallCountClose)
	}
	if spk.CallCountClose != 1 {
		t.Errorf("speaker Close calls = %d, want 1", spk.CallCountClose)
	}
}

func TestTeardown_NothingAcquired(t *testing.T) {
	t.Parallel()

	e := &Engine{}
	e.teardown()
	e.teardown()
}

func TestTeardown_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	e, sess, mic, spk := acquired(t)
	mic.CloseErr = errors.New("driver error")
	e.handle = panickyHandle{sess}

	e.teardown()

	if spk.CallCountClose != 1 {
		t.Errorf("speaker Close calls = %d, want 1", spk.CallCountClose)
	}
	if e.handle != nil || e.pipe != nil || e.sched != nil || e.out != nil {
		t.Error("resources still referenced after teardown")
	}
}
