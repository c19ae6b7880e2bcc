package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

func newCloudSender(t *testing.T, handler http.HandlerFunc) *CloudSender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewCloudSender(CloudConfig{
		AccessToken:   "token",
		PhoneNumberID: "12345",
		BaseURL:       server.URL,
	}, MessageBuilder{ClinicName: "Clinica"}, logging.Discard())
}

func TestCloudSendText(t *testing.T) {
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/12345/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("authorization = %q", got)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["messaging_product"] != "whatsapp" || payload["type"] != "text" {
			t.Errorf("payload = %v", payload)
		}
		// "+" and separators must not reach the provider
		if payload["to"] != "5534999990000" {
			t.Errorf("to = %v", payload["to"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.abc"}},
		})
	})

	result, err := sender.SendText(context.Background(), "+5534999990000", "ola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if result.MessageID != "wamid.abc" || result.Phone != "+5534999990000" {
		t.Errorf("result = %+v", result)
	}
}

func TestCloudSendTemplate(t *testing.T) {
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Type     string `json:"type"`
			Template struct {
				Name     string `json:"name"`
				Language struct {
					Code string `json:"code"`
				} `json:"language"`
				Components []struct {
					Type       string `json:"type"`
					Parameters []struct {
						Type string `json:"type"`
						Text string `json:"text"`
					} `json:"parameters"`
				} `json:"components"`
			} `json:"template"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Type != "template" || payload.Template.Name != "confirmacao" {
			t.Errorf("payload = %+v", payload)
		}
		if payload.Template.Language.Code != "pt_BR" {
			t.Errorf("language = %q", payload.Template.Language.Code)
		}
		if len(payload.Template.Components) != 1 || len(payload.Template.Components[0].Parameters) != 2 {
			t.Fatalf("components = %+v", payload.Template.Components)
		}
		if payload.Template.Components[0].Parameters[0].Text != "Joao" {
			t.Errorf("first param = %+v", payload.Template.Components[0].Parameters[0])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.tpl"}},
		})
	})

	result, err := sender.SendTemplate(context.Background(), "+5534999990000", "confirmacao", "", []string{"Joao", "15/12"})
	if err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if result.MessageID != "wamid.tpl" {
		t.Errorf("result = %+v", result)
	}
}

func TestCloudSendErrorBody(t *testing.T) {
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "invalid recipient", "code": 131026},
		})
	})

	_, err := sender.SendText(context.Background(), "+55349", "ola")
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "invalid recipient") || !strings.Contains(err.Error(), "131026") {
		t.Errorf("error = %v", err)
	}
}

func TestCloudNotConfigured(t *testing.T) {
	sender := NewCloudSender(CloudConfig{}, MessageBuilder{}, logging.Discard())
	if _, err := sender.SendText(context.Background(), "+55", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SendText error = %v", err)
	}
	if err := sender.Initialize(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Initialize error = %v", err)
	}
	st := sender.Status(context.Background())
	if st.Configured || st.Connected {
		t.Errorf("status = %+v", st)
	}
}

func TestCloudInitializeVerifiesPhoneNumber(t *testing.T) {
	var path string
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"id": "12345"})
	})

	if err := sender.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if path != "/v18.0/12345" {
		t.Errorf("path = %s", path)
	}
	st := sender.Status(context.Background())
	if st.Mode != ModeBusiness || !st.Configured || !st.Connected {
		t.Errorf("status = %+v", st)
	}
}

func TestCloudInitializeVerifiesBusinessAccount(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ok"})
	}))
	t.Cleanup(server.Close)
	sender := NewCloudSender(CloudConfig{
		AccessToken:       "token",
		PhoneNumberID:     "12345",
		BusinessAccountID: "67890",
		BaseURL:           server.URL,
	}, MessageBuilder{}, logging.Discard())

	if err := sender.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	want := []string{"/v18.0/12345", "/v18.0/67890"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestCloudGetMessageStatus(t *testing.T) {
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v18.0/wamid.abc" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "wamid.abc", "status": "delivered"})
	})

	status, err := sender.GetMessageStatus(context.Background(), "wamid.abc")
	if err != nil {
		t.Fatalf("GetMessageStatus: %v", err)
	}
	if status.ID != "wamid.abc" || status.Status != "delivered" {
		t.Errorf("status = %+v", status)
	}
}

func TestCloudGetMessageStatusErrorBody(t *testing.T) {
	sender := newCloudSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "unknown message", "code": 100},
		})
	})

	if _, err := sender.GetMessageStatus(context.Background(), "wamid.gone"); err == nil {
		t.Fatal("want error")
	} else if !strings.Contains(err.Error(), "unknown message") {
		t.Errorf("error = %v", err)
	}

	unconfigured := NewCloudSender(CloudConfig{}, MessageBuilder{}, logging.Discard())
	if _, err := unconfigured.GetMessageStatus(context.Background(), "wamid.abc"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}
