package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "NTA batch",
		Message: "Batch aborted.",
		Type:    NotifyWarning,
		RunID:   "r-1",
		Fields: []Field{
			{Name: "Acquired", Value: "2/3"},
			{Name: "Last failure", Value: "trigger not acknowledged", Long: true},
		},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got.Text != "NTA batch" {
		t.Errorf("Text = %q, want NTA batch", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	att := got.Attachments[0]
	if att.Color != "warning" || att.Title != "Run r-1" || att.Text != "Batch aborted." {
		t.Errorf("attachment = %+v", att)
	}
	want := []SlackField{
		{Title: "Acquired", Value: "2/3", Short: true},
		{Title: "Last failure", Value: "trigger not acknowledged", Short: false},
	}
	if len(att.Fields) != len(want) {
		t.Fatalf("fields = %+v, want %+v", att.Fields, want)
	}
	for i := range want {
		if att.Fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, att.Fields[i], want[i])
		}
	}
}

func TestSlackNotifier_DisabledWithoutWebhook(t *testing.T) {
	if err := NewSlackNotifier("").Send(Notification{Title: "x"}); err != nil {
		t.Errorf("Send() = %v, want nil", err)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"}); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called, err: errors.New("offline")}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	err := multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Errorf("err = %v, want the first notifier's error", err)
	}
}

func TestReporter_Outcomes(t *testing.T) {
	tests := []struct {
		outcome  domain.Outcome
		failure  error
		wantType NotificationType
		contains string
	}{
		{domain.OutcomeCompleted, nil, NotifySuccess, "Batch Complete!"},
		{domain.OutcomeUserAborted, nil, NotifyWarning, "Batch aborted."},
		{domain.OutcomeDeviceDisconnected, nil, NotifyError, "Arduino disconnected"},
		{domain.OutcomeDriverFailure, errors.New("export dialog never closed"), NotifyError, "export dialog never closed"},
	}

	for _, tt := range tests {
		var sent []Notification
		mock := notifierFunc(func(n Notification) error {
			sent = append(sent, n)
			return nil
		})
		r := NewReporter(mock, "run-7", 2, logging.NopLogger())
		if tt.failure != nil {
			r.Failure(tt.failure)
		}
		r.BatchOutcome(tt.outcome)

		if len(sent) != 1 {
			t.Fatalf("%s: sent %d notifications, want 1", tt.outcome, len(sent))
		}
		if sent[0].Type != tt.wantType {
			t.Errorf("%s: type = %v, want %v", tt.outcome, sent[0].Type, tt.wantType)
		}
		if body := sent[0].Body(); !strings.Contains(body, tt.contains) {
			t.Errorf("%s: body %q does not contain %q", tt.outcome, body, tt.contains)
		}
	}
}

func TestReporter_BatchFields(t *testing.T) {
	var sent Notification
	r := NewReporter(notifierFunc(func(n Notification) error {
		sent = n
		return nil
	}), "run-8", 3, logging.NopLogger())

	r.PhaseProgress(0, domain.PhaseAcquisition, domain.StatusComplete)
	r.PhaseProgress(1, domain.PhaseAcquisition, domain.StatusComplete)
	r.PhaseProgress(2, domain.PhaseAcquisition, domain.StatusCancelled)
	r.PhaseProgress(0, domain.PhaseProcessing, domain.StatusComplete)
	r.Failure(errors.New("first"))
	r.Failure(errors.New("processing script never ended"))
	r.BatchOutcome(domain.OutcomeDriverFailure)

	fields := make(map[string]string)
	for _, f := range sent.Fields {
		fields[f.Name] = f.Value
	}
	want := map[string]string{
		"Outcome":      string(domain.OutcomeDriverFailure),
		"Samples":      "3",
		"Acquired":     "2/3",
		"Processed":    "1/3",
		"Last failure": "processing script never ended",
	}
	for name, value := range want {
		if fields[name] != value {
			t.Errorf("%s = %q, want %q", name, fields[name], value)
		}
	}

	msg := NewSlackMessage(sent)
	if got := len(msg.Attachments[0].Fields); got != len(want) {
		t.Errorf("slack fields = %d, want %d", got, len(want))
	}
}

func TestReporter_CompletedOmitsFailure(t *testing.T) {
	var sent Notification
	r := NewReporter(notifierFunc(func(n Notification) error {
		sent = n
		return nil
	}), "run-9", 1, logging.NopLogger())

	r.Failure(errors.New("recovered by retry"))
	r.BatchOutcome(domain.OutcomeCompleted)

	for _, f := range sent.Fields {
		if f.Name == "Last failure" {
			t.Errorf("completed batch carries failure %q", f.Value)
		}
	}
}

func TestNotification_Body(t *testing.T) {
	n := Notification{Message: "Batch aborted.", Fields: []Field{{Name: "Acquired", Value: "1/2"}}}
	if got := n.Body(); got != "Batch aborted.\nAcquired: 1/2" {
		t.Errorf("Body() = %q", got)
	}
	if got := (Notification{Message: "m"}).Body(); got != "m" {
		t.Errorf("Body() without fields = %q", got)
	}
}

func TestAppleScriptQuote(t *testing.T) {
	if got := appleScriptQuote(`say "hi" \o/`); got != `say \"hi\" \\o/` {
		t.Errorf("appleScriptQuote = %s", got)
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
	err   error
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return m.err
}

type notifierFunc func(Notification) error

func (f notifierFunc) Send(n Notification) error { return f(n) }
