package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/photonlab/stage_interface/stage"
)

type Server struct {
	mu sync.Mutex
	st *stage.Stage

	defaultSpeedRPM int
	defaultAccel    int

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	seq        uint64
	sample     stage.AngleSample
	advisories []stage.Advisory
}

func NewServer(defaultSpeedRPM, defaultAccel int) *Server {
	s := &Server{
		defaultSpeedRPM: defaultSpeedRPM,
		defaultAccel:    defaultAccel,
	}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// SetStage attaches the stage once it is connected. The callbacks fire from
// the poller before main finishes wiring, so nil is tolerated.
func (s *Server) SetStage(st *stage.Stage) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

func (s *Server) SampleCallback(sample stage.AngleSample) {
	s.statusMu.Lock()
	s.sample = sample
	s.seq++
	s.statusCond.Broadcast()
	s.statusMu.Unlock()
}

// maxAdvisories bounds the advisory backlog kept for status reports; older
// entries are dropped, the log keeps the full history.
const maxAdvisories = 32

func (s *Server) AdvisoryCallback(a stage.Advisory) {
	log.Printf("advisory: %s: %s", a.Code, a.Message)
	s.statusMu.Lock()
	s.advisories = append(s.advisories, a)
	if len(s.advisories) > maxAdvisories {
		s.advisories = s.advisories[len(s.advisories)-maxAdvisories:]
	}
	s.seq++
	s.statusCond.Broadcast()
	s.statusMu.Unlock()
}

// Shutdown wakes all websocket writers so they notice their dead contexts.
func (s *Server) Shutdown() {
	s.statusMu.Lock()
	s.seq++
	s.statusCond.Broadcast()
	s.statusMu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Status struct {
	Stage      stage.Snapshot    `json:"stage"`
	Sample     stage.AngleSample `json:"sample"`
	Advisories []stage.Advisory  `json:"advisories"`
}

func (s *Server) status() Status {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()
	s.statusMu.RLock()
	status := Status{Sample: s.sample, Advisories: s.advisories}
	s.statusMu.RUnlock()
	if st != nil {
		status.Stage = st.Snapshot()
	}
	return status
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.status())
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command       string  `json:"command"`
	Angle         float64 `json:"angle"`
	SpeedRPM      int     `json:"speed_rpm"`
	Acceleration  int     `json:"acceleration"`
	Subdivision   int     `json:"subdivision"`
	Interpolation bool    `json:"interpolation"`
	// Confirmed must be set for commands that move the stage through an
	// unpredictable path, i.e. homing.
	Confirmed bool `json:"confirmed"`
}

type Outcome struct {
	Type          string   `json:"type"`
	Command       string   `json:"command"`
	OK            bool     `json:"ok"`
	Error         string   `json:"error,omitempty"`
	Violations    []string `json:"violations,omitempty"`
	Warning       string   `json:"warning,omitempty"`
	ZeroConfirmed bool     `json:"zero_confirmed,omitempty"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	var writeMu sync.Mutex
	send := func(v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Print(err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			cancel()
		}
	}

	// Read and process incoming commands. Each command runs on its own
	// goroutine so a long homing run cannot queue an emergency stop sent
	// on the same socket.
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			go func(msg Command) {
				send(s.runCommand(msg))
			}(msg)
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.statusMu.RLock()
	lastSeq := s.seq
	s.statusMu.RUnlock()
	send(s.status())

	for {
		s.statusMu.RLock()
		for s.seq == lastSeq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		lastSeq = s.seq
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
		send(s.status())
	}
}

func (s *Server) runCommand(msg Command) Outcome {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()
	out := Outcome{Type: "result", Command: msg.Command}
	if st == nil {
		out.Error = "stage not connected"
		return out
	}
	var err error
	switch msg.Command {
	case "configure":
		if msg.Subdivision < 1 || msg.Subdivision > 255 {
			out.Error = fmt.Sprintf("subdivision %d outside [1, 255]", msg.Subdivision)
			return out
		}
		err = st.Configure(uint8(msg.Subdivision), msg.Interpolation)
	case "move":
		speed, accel := msg.SpeedRPM, msg.Acceleration
		if speed == 0 {
			speed = s.defaultSpeedRPM
		}
		if accel == 0 {
			accel = s.defaultAccel
		}
		err = st.MoveToOutputAngle(msg.Angle, speed, accel)
	case "set_zero":
		var zo stage.ZeroOutcome
		zo, err = st.SetZero()
		out.Warning = zo.Warning
		out.ZeroConfirmed = zo.Confirmed
	case "home":
		if !msg.Confirmed {
			out.Error = "homing moves the stage through an unpredictable path; resend with confirmed set"
			return out
		}
		var zo stage.ZeroOutcome
		zo, err = st.Home()
		out.Warning = zo.Warning
		out.ZeroConfirmed = zo.Confirmed
	case "estop":
		err = st.EmergencyStop()
	default:
		out.Error = "unknown command"
		return out
	}
	if err != nil {
		out.Error = err.Error()
		var ve *stage.ValidationError
		if errors.As(err, &ve) {
			out.Violations = ve.Violations
		}
		return out
	}
	out.OK = true
	return out
}
