package modbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goburrow/modbus"
)

// SendResponse is the JSON body a modbus_proxy instance answers with.
type SendResponse struct {
	ADUResponse []byte
	Error       string
}

// Remote tunnels RTU ADUs over HTTP to a modbus_proxy instance that owns the
// physical serial port.
type Remote struct {
	*modbus.RTUClientHandler

	baseURL  string
	password string
}

func NewRemote(baseURL, password string) *Remote {
	handler := modbus.NewRTUClientHandler("/dev/null")
	handler.SlaveId = 1
	return &Remote{
		RTUClientHandler: handler,
		baseURL:          baseURL,
		password:         password,
	}
}

func (r *Remote) Send(aduRequest []byte) ([]byte, error) {
	req, err := http.NewRequest("POST", r.baseURL, bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if r.password != "" {
		req.SetBasicAuth("stage", r.password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}

func (r *Remote) Connect() error {
	return nil
}

func (r *Remote) Close() error {
	return nil
}
