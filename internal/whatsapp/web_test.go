package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

func newWebSender(t *testing.T, handler http.HandlerFunc) *WebSender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWebSender(server.URL, MessageBuilder{ClinicName: "Clinica"}, logging.Discard())
}

func TestWebSendText(t *testing.T) {
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/send" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["to"] != "+5534999990000" || payload["message"] != "ola" {
			t.Errorf("payload = %v", payload)
		}
		json.NewEncoder(w).Encode(webSendResponse{Success: true, MessageID: "web.123"})
	})

	result, err := sender.SendText(context.Background(), "+5534999990000", "ola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if result.MessageID != "web.123" {
		t.Errorf("result = %+v", result)
	}
}

func TestWebSendGeneratesMissingMessageID(t *testing.T) {
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(webSendResponse{Success: true})
	})

	result, err := sender.SendText(context.Background(), "+5534999990000", "ola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if !strings.HasPrefix(result.MessageID, "web.") || len(result.MessageID) < 10 {
		t.Errorf("message id = %q", result.MessageID)
	}
}

func TestWebSendFailure(t *testing.T) {
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(webSendResponse{Success: false, Error: "session expired"})
	})

	if _, err := sender.SendText(context.Background(), "+55", "ola"); err == nil || !strings.Contains(err.Error(), "session expired") {
		t.Errorf("error = %v", err)
	}
}

func TestWebStatusExposesQRCode(t *testing.T) {
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(webSessionResponse{Success: true, Connected: false, QRCode: "data:image/png;base64,abc"})
	})

	st := sender.Status(context.Background())
	if st.Mode != ModeWeb || !st.Configured || st.Connected {
		t.Errorf("status = %+v", st)
	}
	if !st.HasQRCode || st.QRCode == "" {
		t.Errorf("qr missing: %+v", st)
	}
}

func TestWebInitializeAndDisconnect(t *testing.T) {
	var paths []string
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(webSessionResponse{Success: true})
	})

	if err := sender.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := sender.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/session/start" || paths[1] != "/session/stop" {
		t.Errorf("paths = %v", paths)
	}
}

func TestWebSendTemplateFlattensToText(t *testing.T) {
	var body string
	sender := newWebSender(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		body = payload["message"]
		json.NewEncoder(w).Encode(webSendResponse{Success: true, MessageID: "web.1"})
	})

	if _, err := sender.SendTemplate(context.Background(), "+55", "confirmacao", "pt_BR", []string{"Joao"}); err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if !strings.Contains(body, "confirmacao") || !strings.Contains(body, "Joao") {
		t.Errorf("body = %q", body)
	}
}
