package network

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
	"github.com/MRamiBalles/CrowdCombat/server/internal/events"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/config"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/metrics"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *engine.Engine
	hub    *Hub
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.LowResourceConfig()
	cfg.FrameRate = 100
	cfg.PoolSize = 10
	cfg.Scheduler = tick.Config{BatchSize: 4, TickIntervalFrames: 2}

	log := logger.NewNopLogger()
	collector := metrics.NewCollector()
	eng, err := engine.NewEngine(cfg, events.NewEventLog(nil), collector, log)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	hub := NewHub(log, collector, cfg.BroadcastBuffer)
	eng.OnFrame(hub.Broadcast)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	eng.Start(ctx)

	api := NewAPI(eng, hub, nil, log, cfg.ClientSendBuffer)
	return &testServer{engine: eng, hub: hub, router: NewRouter(api, nil)}
}

func (s *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestPutConfig(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPut, "/api/config", tick.Config{BatchSize: 0, TickIntervalFrames: 5})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "batch_size") {
		t.Fatalf("invalid config: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.request(t, http.MethodPut, "/api/config", tick.Config{BatchSize: 7, TickIntervalFrames: 3})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("valid config: %d %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var body struct {
			Active tick.Config `json:"active"`
		}
		decodeBody(t, s.request(t, http.MethodGet, "/api/config", nil), &body)
		if body.Active.BatchSize == 7 && body.Active.TickIntervalFrames == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("config was never applied")
}

func TestSpawnAndDespawn(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/pool/spawn", SpawnRequest{Count: 3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("spawn: %d %s", rec.Code, rec.Body.String())
	}
	var spawned struct {
		IDs []string `json:"ids"`
	}
	decodeBody(t, rec, &spawned)
	if len(spawned.IDs) != 3 {
		t.Fatalf("ids = %v", spawned.IDs)
	}

	if rec := s.request(t, http.MethodPost, "/api/pool/spawn", SpawnRequest{Count: 0}); rec.Code != http.StatusBadRequest {
		t.Errorf("zero spawn: %d", rec.Code)
	}

	if rec := s.request(t, http.MethodDelete, "/api/pool/monsters/"+spawned.IDs[0], nil); rec.Code != http.StatusNoContent {
		t.Errorf("despawn: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.request(t, http.MethodDelete, "/api/pool/monsters/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("despawn unknown: %d", rec.Code)
	}

	rec = s.request(t, http.MethodGet, "/api/events?type=POPULATION_DESPAWN&actor="+ActorOperator, nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("despawn events = %d, want 1", list.Count)
	}
}

func TestPoolToggle(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/pool/disable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: %d", rec.Code)
	}
	if s.engine.LatestStats().PoolEnabled {
		t.Error("pool still enabled")
	}
	s.request(t, http.MethodPost, "/api/pool/enable", nil)
	if !s.engine.LatestStats().PoolEnabled {
		t.Error("pool not re-enabled")
	}

	if rec := s.request(t, http.MethodPost, "/api/scheduler/clear", nil); rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	if got := s.engine.LatestStats().Scheduler.Registered; got != 0 {
		t.Errorf("registered after clear = %d", got)
	}
}

func TestStoredEventsWithoutRepo(t *testing.T) {
	s := newTestServer(t)
	if rec := s.request(t, http.MethodGet, "/api/events?source=db&type=DISPATCH_FAILURE", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsAndRecommendations(t *testing.T) {
	s := newTestServer(t)
	s.request(t, http.MethodGet, "/health", nil)

	rec := s.request(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "crowd_http_requests_total") {
		t.Errorf("metrics output missing request counter: %d", rec.Code)
	}

	rec = s.request(t, http.MethodGet, "/api/recommendations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recommendations: %d", rec.Code)
	}
	var body struct {
		Proposed tick.Config `json:"proposed"`
	}
	decodeBody(t, rec, &body)
	if body.Proposed.BatchSize <= 0 {
		t.Errorf("proposed config = %+v", body.Proposed)
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub(logger.NewNopLogger(), metrics.NewCollector(), 1)
	hub.Broadcast(engine.FrameReport{Frame: 1})
	hub.Broadcast(engine.FrameReport{Frame: 2})
	if got := hub.Stats()["dropped"]; got != uint64(1) {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatJSON, "json": FormatJSON, "MSGPACK": FormatMsgpack, "binary": FormatMsgpack}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func dialWS(t *testing.T, srv *httptest.Server, format string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=" + format
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads envelopes until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, f Format, want string) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env Envelope
		if err := Decode(f, data, &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Type == want {
			return env
		}
	}
}

func TestWebSocketJSON(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "json")
	hello := readUntil(t, conn, FormatJSON, MessageHello)
	if hello.ClientID == "" {
		t.Fatal("HELLO without client id")
	}

	frame := readUntil(t, conn, FormatJSON, MessageFrame)
	if frame.Frame == nil || frame.Frame.Frame%2 != 0 || frame.Frame.Batch != 4 {
		t.Errorf("unexpected frame report: %+v", frame.Frame)
	}

	cmd, _ := json.Marshal(ClientCommand{Type: CommandSpawn, Seq: 9, Count: 2})
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatal(err)
	}
	ack := readUntil(t, conn, FormatJSON, MessageAck)
	if ack.Seq != 9 || ack.Command != CommandSpawn {
		t.Errorf("unexpected ack: %+v", ack)
	}

	bad, _ := json.Marshal(ClientCommand{Type: "TELEPORT", Seq: 10})
	conn.WriteMessage(websocket.TextMessage, bad)
	if e := readUntil(t, conn, FormatJSON, MessageError); e.Seq != 10 {
		t.Errorf("unexpected error reply: %+v", e)
	}
}

func TestWebSocketMsgpack(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "msgpack")
	readUntil(t, conn, FormatMsgpack, MessageHello)

	frame := readUntil(t, conn, FormatMsgpack, MessageFrame)
	if frame.Frame == nil || frame.Frame.Eligible == 0 {
		t.Errorf("unexpected msgpack frame: %+v", frame.Frame)
	}

	active := false
	cmd, err := Encode(FormatMsgpack, ClientCommand{Type: CommandSetActive, Seq: 3, Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, cmd); err != nil {
		t.Fatal(err)
	}
	ack := readUntil(t, conn, FormatMsgpack, MessageAck)
	if ack.Seq != 3 {
		t.Errorf("unexpected ack: %+v", ack)
	}
	if id, ok := ack.Result.(string); !ok || id == "" {
		t.Errorf("ack result should carry the deactivated monster id, got %#v", ack.Result)
	}
}
