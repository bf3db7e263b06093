package roster

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestRoster() *Roster {
	return New(Config{HistorySize: DefaultHistorySize, Bots: []string{"NightBot", "arachnobot"}})
}

func TestUpsertAndLookup(t *testing.T) {
	r := newTestRoster()

	v, created := r.Upsert("carol", Attributes{DisplayName: "Carol", Color: "#FF0000"})
	if !created {
		t.Fatal("expected first upsert to report created")
	}
	if v.Name != "carol" || v.Label() != "Carol" {
		t.Errorf("unexpected viewer: %+v", v)
	}

	for _, name := range []string{"carol", "CAROL", "@Carol", " carol "} {
		got, err := r.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if got.Color != "#FF0000" {
			t.Errorf("Lookup(%q).Color = %q", name, got.Color)
		}
	}

	if _, created := r.Upsert("carol", Attributes{DisplayName: "Carol"}); created {
		t.Error("second upsert must not report created")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 viewer, got %d", r.Len())
	}
}

func TestDisplayNameAlias(t *testing.T) {
	r := newTestRoster()
	r.Upsert("iarspider", Attributes{DisplayName: "Паучок"})

	if _, err := r.Lookup("паучок"); err != nil {
		t.Fatalf("expected display name alias to resolve: %v", err)
	}

	// Renaming drops the stale alias.
	r.Upsert("iarspider", Attributes{DisplayName: "Spider"})
	if _, err := r.Lookup("паучок"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected stale alias to be gone, got %v", err)
	}
	if _, err := r.Lookup("spider"); err != nil {
		t.Errorf("expected new alias to resolve: %v", err)
	}
}

func TestRemovePurgesBothKeys(t *testing.T) {
	r := newTestRoster()
	r.Upsert("iarspider", Attributes{DisplayName: "Паучок"})

	r.Remove("ПАУЧОК")

	for _, name := range []string{"iarspider", "паучок"} {
		if _, err := r.Lookup(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%q) after remove: got %v, want ErrNotFound", name, err)
		}
	}
	if r.Len() != 0 {
		t.Errorf("expected empty roster, got %d", r.Len())
	}

	// Removing an unknown viewer is a no-op.
	r.Remove("nobody")
}

func TestAliasNeverShadowsLogin(t *testing.T) {
	r := newTestRoster()
	r.Upsert("bob", Attributes{DisplayName: "Bob", Moderator: true})
	r.Upsert("imposter", Attributes{DisplayName: "bob"})

	v, err := r.Lookup("bob")
	if err != nil {
		t.Fatal(err)
	}
	if v.Name != "bob" || !v.Moderator {
		t.Errorf("alias shadowed a login: %+v", v)
	}

	r.Remove("imposter")
	if !r.Contains("bob") {
		t.Error("removing imposter must not remove bob")
	}
}

func TestHistoryBounded(t *testing.T) {
	r := newTestRoster()
	r.Upsert("alice", Attributes{})

	for i := 1; i <= DefaultHistorySize+1; i++ {
		if err := r.RecordMessage("alice", fmt.Sprintf("msg-%d", i), nil); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := r.History("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != DefaultHistorySize {
		t.Fatalf("expected %d messages, got %d", DefaultHistorySize, len(msgs))
	}
	// msg-1 is evicted; the history now spans msg-2..msg-11.
	for i, msg := range msgs {
		expected := fmt.Sprintf("msg-%d", i+2)
		if msg.Text != expected {
			t.Errorf("index %d: expected %q, got %q", i, expected, msg.Text)
		}
	}
}

func TestHistoryKeepsEmotes(t *testing.T) {
	r := newTestRoster()
	r.Upsert("alice", Attributes{})
	spans := []EmoteSpan{{Name: "Kappa", Start: 6, End: 10}}
	r.RecordMessage("alice", "hello Kappa", spans)

	msgs, _ := r.History("alice")
	if len(msgs) != 1 || len(msgs[0].Emotes) != 1 || msgs[0].Emotes[0].Name != "Kappa" {
		t.Errorf("unexpected history: %+v", msgs)
	}
}

func TestRecordMessageUnknownViewer(t *testing.T) {
	r := newTestRoster()
	if err := r.RecordMessage("ghost", "boo", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.History("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusQueries(t *testing.T) {
	r := newTestRoster()
	r.Upsert("mod", Attributes{Moderator: true})
	r.Upsert("streamer", Attributes{Broadcaster: true})
	r.Upsert("vip", Attributes{VIP: true})
	r.Upsert("sub", Attributes{Subscriber: true})
	r.Upsert("founder", Attributes{Founder: true})

	tests := []struct {
		name          string
		mod, vip, sub bool
	}{
		{"mod", true, false, false},
		{"streamer", true, false, false},
		{"vip", false, true, false},
		{"sub", false, false, true},
		{"founder", false, false, true},
		{"unknown", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.IsModerator(tt.name); got != tt.mod {
				t.Errorf("IsModerator = %v, want %v", got, tt.mod)
			}
			if got := r.IsVIP(tt.name); got != tt.vip {
				t.Errorf("IsVIP = %v, want %v", got, tt.vip)
			}
			if got := r.IsSubscriber(tt.name); got != tt.sub {
				t.Errorf("IsSubscriber = %v, want %v", got, tt.sub)
			}
		})
	}

	// Attributes follow the latest upsert.
	r.Upsert("mod", Attributes{})
	if r.IsModerator("mod") {
		t.Error("expected moderator flag to be refreshed")
	}
}

func TestGreetOncePerIdentity(t *testing.T) {
	r := newTestRoster()
	greeted := map[string]int{}
	r.SetOnGreet(func(v Viewer) { greeted[v.Name]++ })

	r.Upsert("alice", Attributes{})
	r.Upsert("alice", Attributes{})
	r.Remove("alice")
	r.Upsert("Alice", Attributes{})
	r.Upsert("nightbot", Attributes{})

	if greeted["alice"] != 1 {
		t.Errorf("expected alice greeted once, got %d", greeted["alice"])
	}
	if greeted["nightbot"] != 0 {
		t.Error("bots must never be greeted")
	}
}

func TestIsBot(t *testing.T) {
	r := newTestRoster()
	if !r.IsBot("nightbot") || !r.IsBot("@ArachnoBot") {
		t.Error("expected configured bots to be recognised")
	}
	if r.IsBot("alice") {
		t.Error("alice is not a bot")
	}
}

func TestViewersSorted(t *testing.T) {
	r := newTestRoster()
	r.Upsert("zed", Attributes{DisplayName: "Zed"})
	r.Upsert("amy", Attributes{DisplayName: "Amy_"})

	vs := r.Viewers()
	if len(vs) != 2 || vs[0].Name != "amy" || vs[1].Name != "zed" {
		t.Errorf("unexpected viewers: %+v", vs)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRoster()
	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("viewer-%d", id%5)
			for m := 0; m < 20; m++ {
				r.Upsert(name, Attributes{})
				_ = r.RecordMessage(name, "hi", nil)
				_ = r.IsModerator(name)
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 5 {
		t.Fatalf("expected 5 viewers, got %d", r.Len())
	}
	for i := 0; i < 5; i++ {
		msgs, _ := r.History(fmt.Sprintf("viewer-%d", i))
		if len(msgs) != DefaultHistorySize {
			t.Errorf("viewer-%d: expected %d messages, got %d", i, DefaultHistorySize, len(msgs))
		}
	}
}

func TestCanonical(t *testing.T) {
	r := New(DefaultConfig())
	r.Upsert("vasya", Attributes{DisplayName: "Вася"})

	tests := map[string]string{
		"vasya":  "vasya",
		"@Вася":  "vasya",
		"ВАСЯ":   "vasya",
		" Ghost": "ghost",
	}
	for in, want := range tests {
		if got := r.Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}
