package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mt5-trader/internal/events"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (r *recorder) Send(_ context.Context, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return !r.fail
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestTelegramFansOutToEveryChat(t *testing.T) {
	var mu sync.Mutex
	var chats []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var msg sendMessage
		json.NewDecoder(r.Body).Decode(&msg)
		if msg.ParseMode != "HTML" || msg.Text != "<b>hi</b>" {
			t.Errorf("message = %+v", msg)
		}
		mu.Lock()
		chats = append(chats, msg.ChatID)
		mu.Unlock()
		if msg.ChatID == "bad" {
			http.Error(w, `{"ok":false}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", []string{"1", "2"})
	tg.SetBaseURL(srv.URL)
	if !tg.Send(context.Background(), "<b>hi</b>") {
		t.Fatalf("expected success")
	}

	tg = NewTelegram("TOKEN", []string{"1", "bad", "3"})
	tg.SetBaseURL(srv.URL)
	if tg.Send(context.Background(), "<b>hi</b>") {
		t.Fatalf("one failing chat must fail the send")
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(chats, ",") != "1,2,1,bad,3" {
		t.Fatalf("chats = %v", chats)
	}
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{fail: true}
	if (Multi{a, nil, b}).Send(context.Background(), "x") {
		t.Fatalf("failure must propagate")
	}
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatalf("every notifier must be tried")
	}
	if !(Multi{a, LogNotifier{}}).Send(context.Background(), "<b>y</b>\nz") {
		t.Fatalf("expected success")
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    []string
	}{
		{"opened manual", events.PositionOpened{Ticket: 7, Symbol: "XAUUSD", Side: "BUY", Volume: 0.1, EntryPrice: 2000, Origin: events.OriginManual, Balance: 10000, Equity: 10010, MarginLevel: 2502.5, MarginFree: 9610},
			[]string{"(manual)", "Ticket: 7", "BUY XAUUSD 0.10 lot", "Equity: 10010.00", "Margin level: 2502.5%", "Free margin: 9610.00"}},
		{"closed win", events.PositionClosed{Ticket: 7, Symbol: "XAUUSD", Volume: 0.1, EntryPrice: 2000, ExitPrice: 2010, Profit: 100, Origin: events.OriginBot},
			[]string{"✅ WIN", "(bot)", "P&L: 100.00"}},
		{"closed loss", events.PositionClosed{Ticket: 8, Profit: -5, Origin: events.OriginOther},
			[]string{"❌ LOSS", "(other bot)"}},
		{"started", events.BotStarted{Symbol: "XAUUSD", Mode: "moderate", Balance: 10000, Currency: "USD", OpenPositions: 2},
			[]string{"Bot started", "moderate", "10000.00 USD", "Open positions: 2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Format(tc.payload)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Fatalf("%q missing %q", got, w)
				}
			}
		})
	}
	if Format(42) != "" {
		t.Fatalf("unknown payload must render empty")
	}
}

func TestDispatcherDeliversLifecycleOnly(t *testing.T) {
	bus := events.NewBus()
	rec := &recorder{}
	d := &Dispatcher{Bus: bus, Sink: rec}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	bus.Publish(events.EventRiskAlert, events.RiskAlert{Message: "ignored here"})
	bus.Publish(events.EventPositionOpened, events.PositionOpened{Ticket: 1, Origin: events.OriginBot})
	bus.Publish(events.EventPositionClosed, events.PositionClosed{Ticket: 1, Profit: 3})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	d.Wait()

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("delivered %d messages: %v", len(got), got)
	}
	if !strings.Contains(got[0], "Position opened") || !strings.Contains(got[1], "Position closed") {
		t.Fatalf("messages = %v", got)
	}
}

// gatedSink blocks its first Send until release is closed.
type gatedSink struct {
	recorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSink) Send(ctx context.Context, text string) bool {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.recorder.Send(ctx, text)
}

func TestDispatcherSlowSinkLosesNothing(t *testing.T) {
	bus := events.NewBus()
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	d := &Dispatcher{Bus: bus, Sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	bus.Publish(events.EventPositionOpened, events.PositionOpened{Ticket: 1, Origin: events.OriginBot})
	<-sink.entered
	for i := 0; i < 200; i++ {
		bus.Publish(events.EventOrderExecuted, i)
		bus.Publish(events.EventPositionClosed, events.PositionClosed{Ticket: uint64(100 + i), Profit: 1})
	}

	// shutting down with a backlog still delivers it
	cancel()
	close(sink.release)
	d.Wait()

	got := sink.all()
	if len(got) != 201 {
		t.Fatalf("delivered %d messages, want 201", len(got))
	}
	if !strings.Contains(got[200], "Ticket: 299") {
		t.Fatalf("last message = %q", got[200])
	}
}
