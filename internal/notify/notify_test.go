package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/config"
)

func TestNewSlackNotifierDisabledOrIncomplete(t *testing.T) {
	if n := NewSlackNotifier(config.SlackNotifyConfig{}); n != nil {
		t.Error("disabled config built a notifier")
	}
	if n := NewSlackNotifier(config.SlackNotifyConfig{Enabled: true, BotToken: "xoxb"}); n != nil {
		t.Error("missing channel built a notifier")
	}
	if n := NewSlackNotifier(config.SlackNotifyConfig{Enabled: true, Channel: "#triage"}); n != nil {
		t.Error("missing token built a notifier")
	}
}

func TestNewKafkaNotifierDisabledOrIncomplete(t *testing.T) {
	if n := NewKafkaNotifier(config.KafkaNotifyConfig{}); n != nil {
		t.Error("disabled config built a notifier")
	}
	if n := NewKafkaNotifier(config.KafkaNotifyConfig{Enabled: true, Topic: "t"}); n != nil {
		t.Error("missing brokers built a notifier")
	}
	if n := NewKafkaNotifier(config.KafkaNotifyConfig{Enabled: true, Brokers: []string{"localhost:9092"}}); n != nil {
		t.Error("missing topic built a notifier")
	}
}

func TestSlackNotifierPostsFormattedMessage(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotChannel = r.FormValue("channel")
		gotText = r.FormValue("text")
		fmt.Fprint(w, `{"ok":true,"channel":"C123","ts":"1"}`)
	}))
	defer srv.Close()

	n := NewSlackNotifier(config.SlackNotifyConfig{
		Enabled:  true,
		BotToken: "xoxb-test",
		Channel:  "#triage",
		APIBase:  srv.URL,
	})
	if n == nil {
		t.Fatal("notifier not built")
	}

	ev := Event{
		WorkItemID: 42,
		Title:      "Implement parser",
		Assignee:   "dev@example.com",
		Reason:     "Commitment late (+5d)",
		URL:        "https://dev.azure.com/org/_wi/42",
		FlaggedAt:  time.Date(2020, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotChannel != "#triage" {
		t.Errorf("channel = %q", gotChannel)
	}
	for _, want := range []string{"#42", "Implement parser", "Commitment late (+5d)", "dev@example.com"} {
		if !strings.Contains(gotText, want) {
			t.Errorf("message missing %q: %s", want, gotText)
		}
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := Event{
		WorkItemID: 7,
		Title:      "T",
		Reason:     "Forecast late (+2d)",
		FlaggedAt:  time.Date(2020, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if m["id"].(float64) != 7 || m["reason"] != "Forecast late (+2d)" {
		t.Errorf("json = %s", data)
	}
	if _, ok := m["assignee"]; ok {
		t.Error("empty assignee not omitted")
	}
}
