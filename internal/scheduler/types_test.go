package scheduler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"low", PriorityLow, false},
		{"NORMAL", PriorityNormal, false},
		{"", PriorityNormal, false},
		{" High ", PriorityHigh, false},
		{"critical", PriorityCritical, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPriority) {
					t.Errorf("ParsePriority(%q) error = %v, want ErrInvalidPriority", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestPriority_JSON(t *testing.T) {
	var body struct {
		Priority Priority `json:"priority"`
	}
	if err := json.Unmarshal([]byte(`{"priority":"high"}`), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Priority != PriorityHigh {
		t.Errorf("Priority = %v, want HIGH", body.Priority)
	}
	out, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"priority":"HIGH"}` {
		t.Errorf("Marshal() = %s", out)
	}
}

func TestEncodeFrame(t *testing.T) {
	now := time.Unix(1732377600, 0)
	tests := []struct {
		name     string
		payload  json.RawMessage
		wantData map[string]any
	}{
		{
			name:     "no payload",
			wantData: map[string]any{"action": "blink"},
		},
		{
			name:     "object payload merged",
			payload:  json.RawMessage(`{"duration":3,"action":"ignored"}`),
			wantData: map[string]any{"action": "blink", "duration": float64(3)},
		},
		{
			name:     "scalar payload under data",
			payload:  json.RawMessage(`42`),
			wantData: map[string]any{"action": "blink", "data": float64(42)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := QueuedCommand{DeviceID: "fu-1", Action: "blink", Payload: tt.payload}
			frame, err := EncodeFrame(cmd, now)
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}
			var got commandFrame
			if err := json.Unmarshal(frame, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got.Protocol != "ssp/1.0" || got.Type != "cmd" || got.DeviceID != "fu-1" || got.Timestamp != 1732377600 {
				t.Errorf("envelope = %+v", got)
			}
			if len(got.Data) != len(tt.wantData) {
				t.Fatalf("data = %v, want %v", got.Data, tt.wantData)
			}
			for k, v := range tt.wantData {
				if got.Data[k] != v {
					t.Errorf("data[%q] = %v, want %v", k, got.Data[k], v)
				}
			}
		})
	}
}

func TestParseScheduleMetadata(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		doc          string
		wantOK       bool
		wantMode     Mode
		wantOpensIn  time.Duration
		wantDuration time.Duration
		wantOpen     bool
	}{
		{
			name:         "m block",
			doc:          `{"d":{"t":1},"m":{"mode":"data","cmd_in":285,"cmd_dur":15}}`,
			wantOK:       true,
			wantMode:     ModeData,
			wantOpensIn:  285 * time.Second,
			wantDuration: 15 * time.Second,
		},
		{
			name:         "top level keys",
			doc:          `{"mode":"cmd","cmd_dur":20}`,
			wantOK:       true,
			wantMode:     ModeCmd,
			wantDuration: 20 * time.Second,
			wantOpen:     true,
		},
		{
			name:         "default duration",
			doc:          `{"m":{"mode":"data","cmd_in":30}}`,
			wantOK:       true,
			wantMode:     ModeData,
			wantOpensIn:  30 * time.Second,
			wantDuration: 10 * time.Second,
		},
		{
			name:         "data with zero countdown is open",
			doc:          `{"m":{"mode":"data","cmd_in":0}}`,
			wantOK:       true,
			wantMode:     ModeData,
			wantDuration: 10 * time.Second,
			wantOpen:     true,
		},
		{name: "no mode", doc: `{"m":{"cmd_in":5}}`},
		{name: "unknown mode", doc: `{"m":{"mode":"sleep"}}`},
		{name: "not json", doc: `{"m":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, ok := ParseScheduleMetadata([]byte(tt.doc), at, 10*time.Second)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if meta.Mode != tt.wantMode || meta.WindowOpensIn != tt.wantOpensIn || meta.WindowDuration != tt.wantDuration {
				t.Errorf("meta = %+v", meta)
			}
			if meta.WindowOpen() != tt.wantOpen {
				t.Errorf("WindowOpen() = %v, want %v", meta.WindowOpen(), tt.wantOpen)
			}
			if !meta.ReceivedAt.Equal(at) {
				t.Errorf("ReceivedAt = %v", meta.ReceivedAt)
			}
		})
	}
}

func TestScheduleMetadata_Timing(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta, _ := ParseScheduleMetadata([]byte(`{"m":{"mode":"data","cmd_in":30}}`), at, 10*time.Second)

	if remaining, ok := meta.TimeUntilWindow(at.Add(25 * time.Second)); !ok || remaining != 5*time.Second {
		t.Errorf("TimeUntilWindow() = %v, %v", remaining, ok)
	}
	if meta.Imminent(at, 10*time.Second) {
		t.Error("Imminent() at 30s = true")
	}
	if !meta.Imminent(at.Add(25*time.Second), 10*time.Second) {
		t.Error("Imminent() at 5s = false")
	}
	if _, ok := meta.TimeUntilWindow(at.Add(time.Minute)); ok {
		t.Error("TimeUntilWindow() after the window passed should be unknown")
	}
}

func TestCommandQueue_OrderAndSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q commandQueue
	q.push(QueuedCommand{Action: "low", Priority: PriorityLow, ExpiresAt: now.Add(time.Minute)})
	q.push(QueuedCommand{Action: "high-expired", Priority: PriorityHigh, ExpiresAt: now})
	q.push(QueuedCommand{Action: "normal", Priority: PriorityNormal})
	q.push(QueuedCommand{Action: "high", Priority: PriorityHigh, ExpiresAt: now.Add(time.Minute)})

	var order []string
	for _, c := range q.snapshot() {
		order = append(order, c.Action)
	}
	want := []string{"high-expired", "high", "normal", "low"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	if n := q.sweep(now); n != 1 {
		t.Errorf("sweep() = %d, want 1", n)
	}
	if q.len() != 3 {
		t.Errorf("len() = %d, want 3", q.len())
	}
	if head, _ := q.peek(); head.Action != "high" {
		t.Errorf("head = %q, want high", head.Action)
	}
}
