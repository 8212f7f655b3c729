package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/photonlab/stage_interface/servo"
	"github.com/photonlab/stage_interface/stage"
)

func newTestServer(t *testing.T, drv servo.Driver) (*Server, *stage.Stage) {
	t.Helper()
	server := NewServer(1000, 255)
	st, err := stage.Connect(drv, stage.Params{
		GearRatio:   17,
		Subdivision: 16,
		Homing:      servo.HomingParams{Direction: servo.CW, SpeedRPM: 50},
	}, server.SampleCallback, server.AdvisoryCallback)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server.SetStage(st)
	return server, st
}

func TestConfigureCommandRejectsBadSubdivision(t *testing.T) {
	server, st := newTestServer(t, servo.NewSimulator())
	for _, code := range []int{0, -1, 256, 1000} {
		out := server.runCommand(Command{Command: "configure", Subdivision: code, Interpolation: true})
		if out.OK || !strings.Contains(out.Error, "subdivision") {
			t.Errorf("configure %d: outcome %+v, want subdivision error", code, out)
		}
	}
	// The servo was never reconfigured.
	if snap := st.Snapshot(); snap.Subdivision != 16 {
		t.Errorf("subdivision changed to %d", snap.Subdivision)
	}
}

func TestAdvisoryBacklogBounded(t *testing.T) {
	server, _ := newTestServer(t, servo.NewSimulator())
	for i := 0; i < 10*maxAdvisories; i++ {
		server.AdvisoryCallback(stage.Advisory{Code: "test", Message: "x"})
	}
	status := server.status()
	if got := len(status.Advisories); got > maxAdvisories {
		t.Errorf("advisory backlog %d, want at most %d", got, maxAdvisories)
	}
}

// slowHomeDriver parks homing runs until the test releases them.
type slowHomeDriver struct {
	*servo.Simulator
	started chan struct{}
	release chan struct{}
}

func (d *slowHomeDriver) TriggerHoming() (servo.HomeResult, error) {
	close(d.started)
	<-d.release
	return servo.HomeSuccess, nil
}

type wsFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
}

func readResult(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("reading socket: %v", err)
		}
		// Status frames share the stream and carry no type.
		if f.Type == "result" {
			return f
		}
	}
}

// An emergency stop sent on the same socket must not wait behind a
// long-running homing command.
func TestEStopNotQueuedBehindHoming(t *testing.T) {
	drv := &slowHomeDriver{
		Simulator: servo.NewSimulator(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	server, _ := newTestServer(t, drv)
	r := mux.NewRouter()
	r.Handle("/api/ws", http.HandlerFunc(server.StatusSocketHandler))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Command{Command: "home", Confirmed: true}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-drv.started:
	case <-time.After(5 * time.Second):
		t.Fatal("homing never reached the driver")
	}

	if err := conn.WriteJSON(Command{Command: "estop"}); err != nil {
		t.Fatal(err)
	}
	// The stop result arrives while homing is still parked.
	out := readResult(t, conn)
	if out.Command != "estop" || !out.OK {
		t.Fatalf("got %+v, want successful estop", out)
	}

	close(drv.release)
	out = readResult(t, conn)
	if out.Command != "home" {
		t.Errorf("got %+v, want home result", out)
	}
}
