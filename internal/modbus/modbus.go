// Package modbus wraps goburrow/modbus with the two transports the daemon
// supports: a local RTU serial port or an HTTP tunnel to a remote bus proxy.
package modbus

import (
	"time"

	"github.com/goburrow/modbus"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 38400
	BaudRate int
	SlaveId  byte
	// URL creates a remote connection through a modbus_proxy instance
	URL string
	// Password authenticates against the proxy
	Password string
	// Timeout defaults to 1s
	Timeout time.Duration

	handler modbusHandler
	modbus.Client
}

func (c *Client) Connect() error {
	if c.BaudRate == 0 {
		c.BaudRate = 38400
	}
	if c.Timeout == 0 {
		c.Timeout = 1 * time.Second
	}
	if c.URL != "" {
		c.handler = NewRemote(c.URL, c.Password)
	} else {
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = c.BaudRate
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = c.Timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}
	c.Client = modbus.NewClient(c.handler)
	return c.handler.Connect()
}

func (c *Client) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}
