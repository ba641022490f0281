package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/vigildev/vigil/internal/bridge"
	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/probe"
)

// fakeBridge scripts bridge responses per command.
type fakeBridge struct {
	hooked    bool
	responses map[string]*bridge.Response
	errs      map[string]error
	sent      []string
}

func (f *fakeBridge) IsWindowHooked(string) bool { return f.hooked }

func (f *fakeBridge) SendCommand(_ context.Context, _, command string) (*bridge.Response, error) {
	f.sent = append(f.sent, command)
	if err, ok := f.errs[command]; ok {
		return nil, err
	}
	if resp, ok := f.responses[command]; ok {
		return resp, nil
	}
	return &bridge.Response{OK: true}, nil
}

// fakeClicker records click targets.
type fakeClicker struct {
	clicks []probe.Locator
	err    error
}

func (f *fakeClicker) Click(_ context.Context, _ int, loc probe.Locator) error {
	if f.err != nil {
		return f.err
	}
	f.clicks = append(f.clicks, loc)
	return nil
}

func TestClassificationCascade(t *testing.T) {
	tests := []struct {
		name    string
		present map[probe.Locator]string
		want    instance.InterventionType
	}{
		{
			name:    "connection error wins",
			present: map[probe.Locator]string{probe.LocatorConnectionError: "trouble connecting", probe.LocatorStopButton: "stop"},
			want:    instance.ConnectionIssue,
		},
		{
			name:    "general error without resume control",
			present: map[probe.Locator]string{probe.LocatorGeneralError: "something went wrong"},
			want:    instance.GeneralError,
		},
		{
			name:    "general error with resume control",
			present: map[probe.Locator]string{probe.LocatorGeneralError: "something went wrong", probe.LocatorResumeControl: "resume"},
			want:    instance.AutomatedRecovery,
		},
		{
			name:    "stop button means working",
			present: map[probe.Locator]string{probe.LocatorStopButton: "stop generating"},
			want:    instance.PositiveWorkingState,
		},
		{
			name:    "sidebar activity",
			present: map[probe.Locator]string{probe.LocatorSidebarActivity: "spinner"},
			want:    instance.SidebarActivityDetected,
		},
		{
			name:    "nothing found, no bridge",
			present: map[probe.Locator]string{},
			want:    instance.NoInterventionNeeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&probe.StaticQuerier{Present: tt.present}, &fakeClicker{}, &fakeBridge{hooked: false})
			got := e.DetermineInterventionType(context.Background(), 1)
			if got != tt.want {
				t.Errorf("DetermineInterventionType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryFailureIsInconclusive(t *testing.T) {
	e := New(&probe.StaticQuerier{Err: errors.New("helper missing")}, &fakeClicker{}, &fakeBridge{})
	got := e.DetermineInterventionType(context.Background(), 1)
	if got != instance.UnknownIntervention {
		t.Errorf("DetermineInterventionType() = %v, want unknown on query failure", got)
	}
}

func TestBridgeStatusConfirmsWorking(t *testing.T) {
	fb := &fakeBridge{
		hooked:    true,
		responses: map[string]*bridge.Response{CmdStatus: {OK: true}},
	}
	e := New(&probe.StaticQuerier{}, &fakeClicker{}, fb)

	got := e.DetermineInterventionType(context.Background(), 1)
	if got != instance.PositiveWorkingState {
		t.Errorf("DetermineInterventionType() = %v, want positive from live bridge", got)
	}
	if len(fb.sent) != 1 || fb.sent[0] != CmdStatus {
		t.Errorf("bridge commands = %v, want [%s]", fb.sent, CmdStatus)
	}
}

func TestBridgeDisconnectedMeansConnectionIssue(t *testing.T) {
	fb := &fakeBridge{
		hooked: true,
		errs:   map[string]error{CmdStatus: bridge.ErrHookNotConnected},
	}
	e := New(&probe.StaticQuerier{}, &fakeClicker{}, fb)

	got := e.DetermineInterventionType(context.Background(), 1)
	if got != instance.ConnectionIssue {
		t.Errorf("DetermineInterventionType() = %v, want connection issue", got)
	}
}

func TestBridgeTransportFailureIsInconclusive(t *testing.T) {
	fb := &fakeBridge{
		hooked: true,
		errs:   map[string]error{CmdStatus: errors.New("dial timeout")},
	}
	e := New(&probe.StaticQuerier{}, &fakeClicker{}, fb)

	got := e.DetermineInterventionType(context.Background(), 1)
	if got != instance.UnknownIntervention {
		t.Errorf("DetermineInterventionType() = %v, want unknown", got)
	}
}

func TestConnectionRecoveryPrefersBridge(t *testing.T) {
	fb := &fakeBridge{hooked: true}
	fc := &fakeClicker{}
	e := New(&probe.StaticQuerier{}, fc, fb)

	if !e.AttemptConnectionRecovery(context.Background(), 1) {
		t.Fatal("expected dispatch via bridge")
	}
	if len(fb.sent) != 1 || fb.sent[0] != CmdResume {
		t.Errorf("bridge commands = %v, want [%s]", fb.sent, CmdResume)
	}
	if len(fc.clicks) != 0 {
		t.Error("clicked despite working bridge")
	}
}

func TestConnectionRecoveryFallsBackToClick(t *testing.T) {
	fb := &fakeBridge{hooked: true, errs: map[string]error{CmdResume: errors.New("gone")}}
	fc := &fakeClicker{}
	e := New(&probe.StaticQuerier{}, fc, fb)

	if !e.AttemptConnectionRecovery(context.Background(), 1) {
		t.Fatal("expected dispatch via click fallback")
	}
	if len(fc.clicks) != 1 || fc.clicks[0] != probe.LocatorResumeControl {
		t.Errorf("clicks = %v, want resume control", fc.clicks)
	}
}

func TestConnectionRecoveryReportsFailure(t *testing.T) {
	fc := &fakeClicker{err: errors.New("no such control")}
	e := New(&probe.StaticQuerier{}, fc, &fakeBridge{hooked: false})

	if e.AttemptConnectionRecovery(context.Background(), 1) {
		t.Error("expected dispatch failure when bridge absent and click fails")
	}
}

func TestStuckRecoveryTriesNudgeThenRefresh(t *testing.T) {
	fb := &fakeBridge{hooked: true, errs: map[string]error{CmdNudge: errors.New("no handler")}}
	e := New(&probe.StaticQuerier{}, &fakeClicker{}, fb)

	if !e.AttemptStuckStateRecovery(context.Background(), 1) {
		t.Fatal("expected dispatch via force refresh")
	}
	if len(fb.sent) != 2 || fb.sent[0] != CmdNudge || fb.sent[1] != CmdForceRefresh {
		t.Errorf("bridge commands = %v, want [nudge, force_refresh]", fb.sent)
	}
}

func TestWindowResolverOverride(t *testing.T) {
	var resolved string
	fb := &fakeBridge{hooked: false}
	e := New(&probe.StaticQuerier{}, &fakeClicker{}, fb,
		WithWindowResolver(func(pid int) string {
			resolved = "custom"
			return "custom"
		}))

	e.DetermineInterventionType(context.Background(), 7)
	if resolved != "custom" {
		t.Error("custom window resolver not used")
	}
}
