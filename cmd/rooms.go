package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/config"
	"github.com/Sharif2023/StudyNest-sub001/internal/server"
	"github.com/Sharif2023/StudyNest-sub001/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List active rooms on the hub",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rooms, err := fetchRooms(ctx, http.DefaultClient, cfg.HTTPBaseURL())
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Output, ui.RoomsView(toRows(rooms), time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}

func fetchRooms(ctx context.Context, client *http.Client, baseURL string) ([]server.RoomResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list rooms: hub answered %s", resp.Status)
	}

	var body struct {
		Rooms []server.RoomResponse `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return body.Rooms, nil
}

func toRows(rooms []server.RoomResponse) []ui.RoomRow {
	rows := make([]ui.RoomRow, 0, len(rooms))
	for _, r := range rooms {
		names := make([]string, 0, len(r.Participants))
		for _, p := range r.Participants {
			names = append(names, p.Name)
		}
		rows = append(rows, ui.RoomRow{
			ID:        r.ID,
			Names:     names,
			Occupancy: r.Occupancy,
			CreatedAt: r.CreatedAt,
		})
	}
	return rows
}
