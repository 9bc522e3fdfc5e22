package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/config"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/peerlink"
	"github.com/Sharif2023/StudyNest-sub001/internal/room"
	"github.com/Sharif2023/StudyNest-sub001/internal/signaling"
	"github.com/Sharif2023/StudyNest-sub001/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

const connectTimeout = 15 * time.Second

var (
	flagName     string
	flagVideo    string
	flagAudio    string
	flagScreen   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a study room",
	Long: `Join a study room and connect directly to everyone in it.

Camera, microphone and screen are read from media files: VP8 in IVF for video
and Opus in Ogg for audio. Missing sources are skipped.

Examples:
  studyroom join algorithms --name ada
  studyroom join algorithms --name ada --video cam.ivf --audio mic.ogg --screen slides.ivf
  studyroom join https://rooms.example.com/room/algorithms --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinRoom(roomID)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name (default: your user name)")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file streamed as the camera")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file streamed as the microphone")
	joinCmd.Flags().StringVar(&flagScreen, "screen", "", "IVF file streamed when sharing the screen")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server (e.g. stun:stun.l.google.com:19302)")
	joinCmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server host")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagRelay, "relay", false, "Force all media through the TURN server")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(roomID string) error {
	cfg, err := loadConfig(config.Options{
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	log := slog.Default()

	factory, err := peerlink.NewPionFactory(peerlink.PionConfig{
		ICEServers: iceServers(cfg),
		ForceRelay: cfg.WebRTC.ForceRelay,
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("webrtc setup: %w", err)
	}

	fmt.Fprintln(ui.Output)
	spin := ui.NewConnectionSpinner("Connecting to " + cfg.Signaling.ServerURL + "...")
	spin.Start()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client := signaling.NewClient(cfg.Signaling.ServerURL, log)
	if err := client.Connect(ctx); err != nil {
		spin.Error("Could not reach the hub")
		return fmt.Errorf("connect to hub: %w", err)
	}
	spin.Stop()

	s := room.New(client, room.Config{
		Factory: factory,
		Capturer: &media.FileCapturer{
			VideoPath:  flagVideo,
			AudioPath:  flagAudio,
			ScreenPath: flagScreen,
			Log:        log,
		},
		Log: log,
	})
	defer s.Leave()

	spin = ui.NewWaitingSpinner("Joining " + roomID)
	spin.Start()
	if err := s.Join(ctx, roomID, displayName()); err != nil {
		spin.Error("Could not join " + roomID)
		if errors.Is(err, room.ErrJoinRejected) {
			return err
		}
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	spin.Stop()

	if _, err := tea.NewProgram(ui.NewRoomModel(s), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("room view: %w", err)
	}
	ui.PrintSuccessf("Left %s", roomID)
	return nil
}

// iceServers lists STUN first, then TURN with credentials when configured.
func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}
	if turn := cfg.GetTURNServers(); turn != nil {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   user,
			Credential: pass,
		})
	}
	return servers
}

func displayName() string {
	if flagName != "" {
		return flagName
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "guest"
}

// parseRoomInput accepts a bare room id or a link whose last path segment is
// the room id.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("room ID cannot be empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse room link: %w", err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	id := path[strings.LastIndex(path, "/")+1:]
	if id == "" {
		return "", fmt.Errorf("no room ID in %q", input)
	}
	return id, nil
}
