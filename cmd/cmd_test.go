package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/config"
	"github.com/Sharif2023/StudyNest-sub001/internal/hub"
	"github.com/Sharif2023/StudyNest-sub001/internal/logging"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/Sharif2023/StudyNest-sub001/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestParseRoomInput(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "algorithms", want: "algorithms"},
		{in: "  physics ", want: "physics"},
		{in: "https://rooms.example.com/room/algorithms", want: "algorithms"},
		{in: "https://rooms.example.com/room/algorithms/", want: "algorithms"},
		{in: "", wantErr: true},
		{in: "https://rooms.example.com/", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseRoomInput(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseRoomInput(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("parseRoomInput(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestICEServers(t *testing.T) {
	cfg, err := config.Load(config.Options{
		STUNServer: "stun:stun.example.com:3478",
		TURNServer: "turn.example.com",
		TURNUser:   "ada",
		TURNPass:   "secret",
	})
	if err != nil {
		t.Fatal(err)
	}

	servers := iceServers(cfg)
	if len(servers) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("stun = %v", servers[0].URLs)
	}
	if servers[1].Username != "ada" || servers[1].Credential != "secret" || len(servers[1].URLs) != 3 {
		t.Fatalf("turn = %+v", servers[1])
	}
}

func TestFetchRoomsFromHub(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logging.Discard()
	h := hub.New(hub.WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(server.SetupRouter(server.NewRoomController(h, nil, log), nil, log))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.WriteJSON(protocol.Message{Type: protocol.TypeJoin, RoomID: "algorithms", Name: "ada"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var joined protocol.Message
	if err := conn.ReadJSON(&joined); err != nil || joined.Type != protocol.TypeJoined {
		t.Fatalf("joined = %+v, %v", joined, err)
	}

	rooms, err := fetchRooms(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].ID != "algorithms" || rooms[0].Occupancy != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}

	rows := toRows(rooms)
	if len(rows) != 1 || len(rows[0].Names) != 1 || rows[0].Names[0] != "ada" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestFetchRoomsReportsHubErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := fetchRooms(context.Background(), http.DefaultClient, srv.URL); err == nil {
		t.Fatal("expected an error for a 404 directory")
	}
}
