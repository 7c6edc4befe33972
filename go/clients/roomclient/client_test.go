package roomclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/jukebox/go/internal/room"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/room/gateway"
	"github.com/mcdev12/jukebox/go/internal/timesync"
)

type lazyPublisher struct {
	inner room.EventPublisher
}

func (p *lazyPublisher) Publish(ctx context.Context, evt events.RoomEvent) error {
	return p.inner.Publish(ctx, evt)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	pub := &lazyPublisher{}
	app := room.NewApp(room.NewMemStore(), pub)
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), app)
	pub.inner = gateway.NewDirectPublisher(cm)

	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	mux := http.NewServeMux()
	gateway.NewWebSocketHandler(cm).RegisterRoutes(mux)
	timesync.NewHandler().RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return server
}

func connect(t *testing.T, server *httptest.Server, roomCode, userID string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, DefaultConfig(server.URL, roomCode, userID))
	if err != nil {
		t.Fatalf("connect %s as %s: %v", roomCode, userID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForEvent(t *testing.T, client *Client, eventType events.EventType) events.RoomEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-client.Events():
			if !ok {
				t.Fatalf("connection closed waiting for %s", eventType)
			}
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestConnectAppliesSnapshot(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server, "ABCD", "alice")

	if !client.Mirror().Ready() {
		t.Fatal("mirror must be ready after connect")
	}
	if got := client.Mirror().Room().RoomCode; got != "ABCD" {
		t.Fatalf("mirror holds wrong room %q", got)
	}
}

func TestCommandsUpdateMirror(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server, "ABCD", "alice")

	if err := client.Add("track-a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	evt := waitForEvent(t, client, events.EventTypeQueueAdded)

	items := client.Mirror().Items()
	if len(items) != 1 || items[0].TrackID != "track-a" {
		t.Fatalf("unexpected mirror items %+v", items)
	}
	if tid := client.Mirror().Room().CurrentItemTrackID; tid == nil || *tid != "track-a" {
		t.Fatal("first added track must become current")
	}
	if client.Mirror().Fingerprint() != evt.Fingerprint {
		t.Fatal("mirror fingerprint must match the event fingerprint")
	}
	if client.Mirror().Suspect() {
		t.Fatal("mirror must not be suspect after a clean apply")
	}
}

func TestTwoClientsConverge(t *testing.T) {
	server := newTestServer(t)
	alice := connect(t, server, "ABCD", "alice")
	bob := connect(t, server, "ABCD", "bob")

	if err := alice.Add("track-a", "track-b", "track-c"); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForEvent(t, alice, events.EventTypeQueueAdded)
	waitForEvent(t, bob, events.EventTypeQueueAdded)

	if err := alice.ToggleShuffle(true); err != nil {
		t.Fatalf("shuffle: %v", err)
	}
	waitForEvent(t, alice, events.EventTypeShuffleToggled)
	waitForEvent(t, bob, events.EventTypeShuffleToggled)

	if alice.Mirror().Fingerprint() != bob.Mirror().Fingerprint() {
		t.Fatal("mirrors diverged after shuffle")
	}
	if bob.Mirror().Suspect() {
		t.Fatal("bob's mirror must not be suspect")
	}
}

func TestSnapshotRecoversSuspectMirror(t *testing.T) {
	server := newTestServer(t)
	client := connect(t, server, "ABCD", "alice")

	if err := client.Add("track-a", "track-b"); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForEvent(t, client, events.EventTypeQueueAdded)

	// Corrupt the mirror with an impossible move, then recover.
	bad, err := events.New("ABCD", events.EventTypeQueueMoved, time.Now().UnixMilli(), "", events.QueueMovedPayload{From: 40, To: 50})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if err := client.Mirror().ApplyEvent(bad); err == nil {
		t.Fatal("expected out-of-range move to fail")
	}
	if !client.Mirror().Suspect() {
		t.Fatal("mirror must be suspect after a failed apply")
	}

	if err := client.RequestSnapshot(); err != nil {
		t.Fatalf("request snapshot: %v", err)
	}
	waitForEvent(t, client, events.EventTypeRoomInfo)

	if client.Mirror().Suspect() {
		t.Fatal("snapshot must clear the suspect flag")
	}
	if got := len(client.Mirror().Items()); got != 2 {
		t.Fatalf("expected 2 items after resync, got %d", got)
	}
}
