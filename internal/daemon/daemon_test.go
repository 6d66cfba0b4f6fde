package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/master-rogerio/VCZapO-sub001/internal/api"
	"github.com/master-rogerio/VCZapO-sub001/internal/client"
	"github.com/master-rogerio/VCZapO-sub001/internal/config"
	"github.com/master-rogerio/VCZapO-sub001/internal/lock"
	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/profile"
)

// backend fakes the chat backend: a rooms feed that lists one room with bob,
// bob's profile, message writes and one media file.
type backend struct {
	mu     sync.Mutex
	writes []string
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	be := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if r.URL.Query().Get("collection") == "rooms" {
			_ = wsjson.Write(ctx, conn, map[string]any{
				"type": "snapshot",
				"docs": []map[string]any{{
					"id": "r1",
					"fields": map[string]any{
						"participants":         []string{r.URL.Query().Get("userId"), "bob"},
						"lastMessage":          "hi",
						"lastMessageTimestamp": map[string]any{"seconds": 100},
						"lastMessageSenderId":  "bob",
					},
				}},
			})
		}
		_, _, _ = conn.Read(ctx)
	})
	mux.HandleFunc("GET /profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "bob" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"username": "Bob", "profileUrl": "https://cdn/bob.png"})
	})
	mux.HandleFunc("PUT /rooms/{room}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		be.mu.Lock()
		be.writes = append(be.writes, r.PathValue("id"))
		be.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /rooms/{room}/read", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /media/cat.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not really a png"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// shortHome keeps socket paths under the 104-char Unix socket limit.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "vcz-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("VCZAP_HOME", dir)
	return dir
}

func testConfig(srv *httptest.Server) *config.Config {
	cfg := config.Default()
	cfg.Remote.FeedURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Remote.APIURL = srv.URL
	cfg.Log.Level = "error"
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) (*client.Client, func()) {
	t.Helper()
	app := fx.New(
		Module(Params{Profile: "test", Config: cfg}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	c, err := client.New(profile.SocketPath("test"))
	if err != nil {
		t.Fatal(err)
	}
	return c, func() {
		_ = c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			t.Errorf("stop daemon: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	srv := newBackend(t)
	c, stop := startDaemon(t, testConfig(srv))
	defer stop()
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Profile != "test" || st.State != "IDLE" || st.UserID != "" {
		t.Errorf("status = %+v, want idle test profile", st)
	}

	if err := c.Login(ctx, "me"); err != nil {
		t.Fatalf("Login error = %v", err)
	}
	if err := c.Login(ctx, "me"); err == nil {
		t.Error("second Login should fail while a session is active")
	}

	var rooms []model.RoomSummary
	eventually(t, "room list", func() bool {
		rooms, err = c.ListRooms(ctx)
		return err == nil && len(rooms) == 1
	})
	want := model.Participant{ID: "bob", DisplayName: "Bob", AvatarRef: "https://cdn/bob.png"}
	if rooms[0].RoomID != "r1" || rooms[0].OtherParticipant != want {
		t.Errorf("room = %+v", rooms[0])
	}
	eventually(t, "LIVE state", func() bool {
		st, err = c.Status(ctx)
		return err == nil && st.State == "LIVE"
	})

	sent, err := c.Send(ctx, "r1", "hello")
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if !sent.Delivered || sent.SenderID != "me" {
		t.Errorf("sent = %+v, want delivered from me", sent)
	}
	page, err := c.ListMessages(ctx, api.ListMessagesRequest{RoomID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != sent.ID {
		t.Errorf("messages = %+v", page.Messages)
	}
	hits, err := c.Search(ctx, api.SearchRequest{Query: "hell"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Snippet != "<<hell>>o" {
		t.Errorf("hits = %+v", hits)
	}

	media, err := c.ResolveMedia(ctx, srv.URL+"/media/cat.png")
	if err != nil {
		t.Fatal(err)
	}
	if !media.Local {
		t.Fatalf("media = %+v, want cached", media)
	}
	if data, err := os.ReadFile(media.Path); err != nil || string(data) != "not really a png" {
		t.Errorf("cached file = %q, %v", data, err)
	}

	thread, err := c.Push(ctx, api.PushRequest{RoomID: "r1", SenderID: "bob", Text: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 || thread[0].Text != "ping" {
		t.Errorf("thread after push = %+v", thread)
	}
	thread, err = c.Reply(ctx, api.ReplyRequest{RoomID: "r1", SenderID: "me", RecipientID: "bob", Text: "pong"})
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 2 || !thread[1].AuthorIsSelf {
		t.Errorf("thread = %+v", thread)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout error = %v", err)
	}
	rooms, err = c.ListRooms(ctx)
	if err != nil || len(rooms) != 0 {
		t.Errorf("rooms after logout = %v, %v", rooms, err)
	}
	page, err = c.ListMessages(ctx, api.ListMessagesRequest{RoomID: "r1"})
	if err != nil || len(page.Messages) != 0 {
		t.Errorf("messages after logout = %v, %v", page.Messages, err)
	}
	if _, err := os.Stat(media.Path); !os.IsNotExist(err) {
		t.Errorf("media survived logout: %v", err)
	}
}

func TestWatchRoomStreamsMessages(t *testing.T) {
	shortHome(t)
	srv := newBackend(t)
	cfg := testConfig(srv)
	cfg.Remote.UserID = "me"
	c, stop := startDaemon(t, cfg)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan []model.Message, 8)
	go func() {
		_ = c.WatchRoom(ctx, "r1", func(msgs []model.Message) error {
			got <- msgs
			return nil
		})
	}()

	select {
	case msgs := <-got:
		if len(msgs) != 0 {
			t.Errorf("initial snapshot = %v, want empty", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no initial snapshot")
	}
	eventually(t, "room watched", func() bool {
		st, err := c.Status(context.Background())
		return err == nil && len(st.Watched) == 1
	})

	if _, err := c.Send(context.Background(), "r1", "hello"); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msgs := <-got:
			if len(msgs) == 1 && msgs[0].Content == "hello" && msgs[0].Delivered {
				return
			}
		case <-deadline:
			t.Fatal("sent message never streamed as delivered")
		}
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	shortHome(t)
	srv := newBackend(t)
	_, stop := startDaemon(t, testConfig(srv))
	defer stop()

	if _, err := lock.Acquire(profile.Dir("test")); err == nil {
		t.Fatal("profile lock acquired twice")
	}
}

// TestNewServerParams verifies NewServer resolves its socket from Params.
// A bare string parameter would leave fx with "missing type: string".
func TestNewServerParams(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "vcz-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{Profile: "fxtest", SocketPath: socketPath}, zap.NewNop(), &api.Service{})
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}
	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	srv.Stop(context.Background())
	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Errorf("socket not removed: %v", statErr)
	}
}

func TestMetricsServerDisabled(t *testing.T) {
	m := NewMetricsServer(config.Default(), zap.NewNop())
	if err := m.Start(); err != nil {
		t.Errorf("disabled Start() = %v", err)
	}
	m.Stop(context.Background())
}
