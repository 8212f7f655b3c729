package modbus

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRemoteSend(t *testing.T) {
	var gotADU []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != "hunter2" {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
		gotADU, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(&SendResponse{ADUResponse: []byte{1, 3, 2, 0x11, 0xC5}})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "hunter2")
	resp, err := r.Send([]byte{1, 3, 0, 0x31, 0, 3})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if diff := cmp.Diff(gotADU, []byte{1, 3, 0, 0x31, 0, 3}); diff != "" {
		t.Errorf("request ADU: got(-)/want(+):\n%s", diff)
	}
	if diff := cmp.Diff(resp, []byte{1, 3, 2, 0x11, 0xC5}); diff != "" {
		t.Errorf("response ADU: got(-)/want(+):\n%s", diff)
	}
}

func TestRemoteSendWrongPassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wrong password", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "wrong")
	_, err := r.Send([]byte{1, 3, 0, 0x31, 0, 3})
	if err == nil || !strings.Contains(err.Error(), "bad status code") {
		t.Errorf("got %v, want bad status code", err)
	}
}

func TestRemoteSendRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&SendResponse{Error: "serial: timeout"})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "")
	_, err := r.Send([]byte{1, 3, 0, 0x31, 0, 3})
	if err == nil || err.Error() != "serial: timeout" {
		t.Errorf("got %v, want remote error", err)
	}
}
