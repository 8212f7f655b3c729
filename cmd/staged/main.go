// Command staged runs the rotation-stage daemon: it connects a servo driver
// over the configured field bus, keeps the position poller running and serves
// status plus commands over HTTP and websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/photonlab/stage_interface/internal/config"
	"github.com/photonlab/stage_interface/internal/modbus"
	"github.com/photonlab/stage_interface/servo"
	"github.com/photonlab/stage_interface/stage"
)

var (
	configPath = flag.String("config", "", "path to YAML config; defaults to a simulated stage")
	listenAddr = flag.String("listen", "", "address to listen on (overrides config)")
	simulator  = flag.Bool("simulator", false, "use a simulated servo regardless of config")
)

func openDriver(cfg *config.Config) (servo.Driver, error) {
	transport := cfg.Bus.Transport
	if *simulator {
		transport = "simulator"
	}
	switch transport {
	case "simulator":
		return servo.NewSimulator(), nil
	case "can":
		t, err := servo.DialCAN(servo.CANConfig{
			Interface: cfg.Bus.Interface,
			ID:        cfg.Bus.ServoID,
		})
		if err != nil {
			return nil, err
		}
		return servo.NewDevice(t), nil
	case "serial":
		t, err := servo.DialSerial(servo.SerialConfig{
			Port: cfg.Bus.Port,
			Baud: cfg.Bus.Baud,
			Addr: uint8(cfg.Bus.ServoID),
		})
		if err != nil {
			return nil, err
		}
		return servo.NewDevice(t), nil
	case "modbus", "modbus-remote":
		client := &modbus.Client{
			Port:     cfg.Bus.Port,
			BaudRate: cfg.Bus.Baud,
			SlaveId:  byte(cfg.Bus.ServoID),
			URL:      cfg.Bus.URL,
			Password: cfg.Bus.Password,
		}
		if err := client.Connect(); err != nil {
			return nil, err
		}
		return servo.NewModbusDevice(client), nil
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}

	drv, err := openDriver(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer drv.Close()

	server := NewServer(cfg.Stage.DefaultSpeedRPM, cfg.Stage.DefaultAccel)
	st, err := stage.Connect(drv, cfg.StageParams(), server.SampleCallback, server.AdvisoryCallback)
	if err != nil {
		log.Fatal(err)
	}
	server.SetStage(st)

	r := mux.NewRouter()
	r.Handle("/api/status", http.HandlerFunc(server.StatusHandler))
	r.Handle("/api/ws", http.HandlerFunc(server.StatusSocketHandler))
	srv := &http.Server{
		Handler:     r,
		Addr:        cfg.Server.Listen,
		ReadTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		server.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}
