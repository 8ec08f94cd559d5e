package insights

import (
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingSink struct {
	insights []ClassifiedInsight
	notices  []Notice
	catalogs []ModelCatalog
}

func (r *recordingSink) HandleInsight(i ClassifiedInsight) { r.insights = append(r.insights, i) }
func (r *recordingSink) HandleNotice(n Notice)             { r.notices = append(r.notices, n) }
func (r *recordingSink) HandleCatalog(c ModelCatalog)      { r.catalogs = append(r.catalogs, c) }

func newTestDispatcher() (*Dispatcher, *recordingSink, *Metrics) {
	sink := &recordingSink{}
	m := NewMetrics(nil)
	return NewDispatcher(sink, nil, nil, NewNopLogger(), m), sink, m
}

func TestDispatchOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		want     Outcome
		insights int
		notices  int
		catalogs int
	}{
		{
			name:     "accepted insight",
			frame:    `{"type":"insight","agent":"Sales Agent","content":"Revenue Model:\nCharge per seat and add a platform fee for enterprise tiers."}`,
			want:     OutcomeInsight,
			insights: 1,
		},
		{"short insight rejected", `{"type":"insight","agent":"Sales Agent","content":"ok"}`, OutcomeRejected, 0, 0, 0},
		{"no context rejected", `{"type":"insight","agent":"Sales Agent","content":"NO_BUSINESS_CONTEXT found in this segment of the recording today"}`, OutcomeRejected, 0, 0, 0},
		{"server error", `{"type":"error","message":"model overloaded"}`, OutcomeServerError, 0, 0, 0},
		{"silent error", `{"type":"silent_error","message":"retrying"}`, OutcomeServerError, 0, 0, 0},
		{"final transcript", `{"type":"transcript","is_final":true}`, OutcomeTranscript, 0, 0, 0},
		{"partial transcript", `{"type":"transcript","is_final":false}`, OutcomeIgnored, 0, 0, 0},
		{"system message", `{"type":"system_message","message":"Agents reloaded"}`, OutcomeNotice, 0, 1, 0},
		{"unknown type", `{"type":"heartbeat"}`, OutcomeUnknown, 0, 0, 0},
		{"missing type", `{}`, OutcomeUnknown, 0, 0, 0},
		{"invalid json", `{not json`, OutcomeParseFailure, 0, 1, 0},
		{"binary garbage", "\x00\x01\x02", OutcomeParseFailure, 0, 1, 0},
		{"models without list", `{"type":"available_models","data":{}}`, OutcomeIgnored, 0, 0, 0},
		{"models without data", `{"type":"available_models"}`, OutcomeIgnored, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sink, _ := newTestDispatcher()
			if got := d.Dispatch([]byte(tt.frame)); got != tt.want {
				t.Errorf("Dispatch = %q, want %q", got, tt.want)
			}
			if len(sink.insights) != tt.insights || len(sink.notices) != tt.notices || len(sink.catalogs) != tt.catalogs {
				t.Errorf("sink got %d insights, %d notices, %d catalogs; want %d, %d, %d",
					len(sink.insights), len(sink.notices), len(sink.catalogs), tt.insights, tt.notices, tt.catalogs)
			}
		})
	}
}

func TestDispatchParseFailureNotice(t *testing.T) {
	d, sink, m := newTestDispatcher()
	d.Dispatch([]byte("nope"))

	want := Notice{Level: NoticeError, Source: "System", Message: "Received invalid data format"}
	if len(sink.notices) != 1 || sink.notices[0] != want {
		t.Fatalf("notices = %+v, want %+v", sink.notices, want)
	}
	if got := testutil.ToFloat64(m.ParseFailures); got != 1 {
		t.Errorf("parse failures = %v, want 1", got)
	}
}

func TestDispatchSystemMessageSource(t *testing.T) {
	d, sink, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"system_message","agent":"Coach","message":"Listening for objections"}`))
	d.Dispatch([]byte(`{"type":"system_message","message":"Connected"}`))

	if len(sink.notices) != 2 {
		t.Fatalf("got %d notices", len(sink.notices))
	}
	if sink.notices[0].Source != "Coach" || sink.notices[0].Message != "Listening for objections" {
		t.Errorf("first notice = %+v", sink.notices[0])
	}
	if sink.notices[1].Source != "System" || sink.notices[1].Level != NoticeInfo {
		t.Errorf("second notice = %+v", sink.notices[1])
	}
}

func TestDispatchInsightIsExtracted(t *testing.T) {
	d, sink, m := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"insight","agent":"Sales Agent","content":"Sales Agent: Revenue Model:\nCharge per seat and add a platform fee for enterprise tiers."}`))

	if len(sink.insights) != 1 {
		t.Fatalf("got %d insights", len(sink.insights))
	}
	got := sink.insights[0]
	if got.Agent != "Sales Agent" || got.Headline != "Revenue model" {
		t.Errorf("insight = %+v", got)
	}
	if got.Summary != "Charge per seat and add a platform fee for enterprise tiers." {
		t.Errorf("Summary = %q", got.Summary)
	}
	if testutil.ToFloat64(m.InsightsAccepted) != 1 {
		t.Error("accepted insight was not counted")
	}
}

func TestDispatchRejectionsAreCountedByRule(t *testing.T) {
	d, _, m := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"insight","content":"ok"}`))
	d.Dispatch([]byte(`{"type":"insight","content":"I apologize, but the transcript is too fragmented to analyse properly."}`))

	if got := testutil.ToFloat64(m.InsightsRejected.WithLabelValues(string(RejectTooShort))); got != 1 {
		t.Errorf("too_short = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InsightsRejected.WithLabelValues(string(RejectApology))); got != 1 {
		t.Errorf("apology = %v, want 1", got)
	}
}

func TestDispatchAvailableModelsReplacesCatalog(t *testing.T) {
	d, sink, _ := newTestDispatcher()
	frame := `{"type":"available_models","data":{"models":{"gemini":["gemini-1.5-pro-002"]},"active_provider":"gemini","active_model":"gemini-1.5-pro-002"}}`

	if got := d.Dispatch([]byte(frame)); got != OutcomeCatalog {
		t.Fatalf("Dispatch = %q, want %q", got, OutcomeCatalog)
	}
	want := ModelCatalog{
		Providers:      map[string][]string{"gemini": {"gemini-1.5-pro-002"}},
		ActiveProvider: "gemini",
		ActiveModel:    "gemini-1.5-pro-002",
	}
	if got := d.Catalog(); !reflect.DeepEqual(got, want) {
		t.Errorf("Catalog = %+v, want %+v", got, want)
	}
	if len(sink.catalogs) != 1 || !reflect.DeepEqual(sink.catalogs[0], want) {
		t.Errorf("sink catalogs = %+v", sink.catalogs)
	}
}

func TestDispatchAvailableModelsKeepsSelectionWhenAbsent(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"available_models","data":{"models":{"claude":["claude-3-7-sonnet-20250219"],"gemini":[]}}}`))

	got := d.Catalog()
	if got.ActiveProvider != "gemini" || got.ActiveModel != "gemini-1.5-pro-002" {
		t.Errorf("active selection changed to %s:%s", got.ActiveProvider, got.ActiveModel)
	}
	if names := got.ProviderNames(); !reflect.DeepEqual(names, []string{"claude", "gemini"}) {
		t.Errorf("ProviderNames = %v", names)
	}
	if got.Supports("openai", "") {
		t.Error("catalog should have been replaced wholesale")
	}
}

func TestDispatchCatalogIsCopied(t *testing.T) {
	d, sink, _ := newTestDispatcher()
	d.Dispatch([]byte(`{"type":"available_models","data":{"models":{"gemini":["a"]}}}`))
	sink.catalogs[0].Providers["gemini"][0] = "mutated"

	if got := d.Catalog().Providers["gemini"][0]; got != "a" {
		t.Errorf("internal catalog mutated through sink: %q", got)
	}
}
