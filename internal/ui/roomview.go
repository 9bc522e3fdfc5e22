package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/chat"
	"github.com/Sharif2023/StudyNest-sub001/internal/media"
	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
	"github.com/Sharif2023/StudyNest-sub001/internal/room"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
)

const maxLogLines = 500

var errUsage = errors.New("usage")

// Room is what the room view drives; *room.Session implements it.
type Room interface {
	Self() protocol.ParticipantID
	RoomID() string
	Participants() []room.Participant
	Events() <-chan room.Event
	Done() <-chan struct{}

	SendChat(text string) (chat.Message, error)
	RaiseHand(up bool) error
	HandRaised() bool
	SetMuted(kind webrtc.RTPCodecType, muted bool)
	Muted(kind webrtc.RTPCodecType) bool
	StartScreenShare() error
	StopScreenShare()
	Sharing() bool
	Renegotiate(prefix string) error
	Leave() error
}

type eventMsg struct{ ev room.Event }

type hubClosedMsg struct{}

// noteMsg is the outcome of a command run off the update loop.
type noteMsg struct {
	text string
	err  error
}

// RoomModel is the bubbletea model of a joined room.
type RoomModel struct {
	room    Room
	input   textinput.Model
	spinner spinner.Model
	history viewport.Model

	lines        []string
	seen         map[string]bool
	participants []room.Participant
	connected    bool
	quitting     bool
	now          func() time.Time
}

func NewRoomModel(r Room) *RoomModel {
	in := textinput.New()
	in.Placeholder = "Say something, or /help"
	in.CharLimit = 1000
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		room:         r,
		input:        in,
		spinner:      s,
		history:      viewport.New(80, 10),
		seen:         make(map[string]bool),
		participants: r.Participants(),
		connected:    true,
		now:          time.Now,
	}
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listen())
}

// listen waits for the next session event.
func (m *RoomModel) listen() tea.Cmd {
	events, done := m.room.Events(), m.room.Done()
	return func() tea.Msg {
		select {
		case ev := <-events:
			return eventMsg{ev}
		case <-done:
			return hubClosedMsg{}
		}
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, m.quit()
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line != "" {
				cmds = append(cmds, m.submit(line))
			}
		}

	case tea.WindowSizeMsg:
		m.history.Width = msg.Width - 4
		m.history.Height = max(msg.Height-16, 5)
		m.input.Width = msg.Width - 6
		m.refreshLog()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		m.apply(msg.ev)
		cmds = append(cmds, m.listen())

	case hubClosedMsg:
		if m.connected {
			m.connected = false
			m.addLine(ErrorStyle.Render("Disconnected from the hub"))
		}

	case noteMsg:
		if msg.err != nil {
			m.addLine(FormatError(msg.err))
		} else if msg.text != "" {
			m.addLine(MutedStyle.Render(msg.text))
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.history, cmd = m.history.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// apply folds one session event into the view.
func (m *RoomModel) apply(ev room.Event) {
	switch ev := ev.(type) {
	case room.PeerJoined:
		m.addLine(fmt.Sprintf("%s %s joined", IconPeer, BoldStyle.Render(ev.Participant.Name)))
	case room.PeerLeft:
		m.addLine(fmt.Sprintf("%s %s left", IconPeer, BoldStyle.Render(m.nameOf(ev.ID))))
	case room.HandChanged:
		if ev.Up {
			m.addLine(fmt.Sprintf("%s %s raised a hand", IconHand, BoldStyle.Render(m.nameOf(ev.ID))))
		}
	case room.TrackAdded:
		if ev.Track.Source == media.SourceScreen {
			m.addLine(fmt.Sprintf("%s %s is sharing their screen", IconScreen, BoldStyle.Render(m.nameOf(ev.ID))))
		}
	case room.ChatReceived:
		m.addChat(ev)
	case room.MediaDegraded:
		m.addLine(WarningStyle.Render(fmt.Sprintf("%s %s unavailable: %v", IconWarning, ev.Source, ev.Err)))
	case room.ServerError:
		m.addLine(ErrorStyle.Render("hub: " + ev.Message))
	case room.Disconnected:
		m.connected = false
	}
	m.participants = m.room.Participants()
}

// addChat shows each message id once, whichever path delivers it first.
func (m *RoomModel) addChat(ev room.ChatReceived) {
	if id := ev.Message.ID; id != "" {
		if m.seen[id] {
			return
		}
		m.seen[id] = true
	}

	author := AuthorStyle.Render(ev.Message.Author)
	if ev.From == m.room.Self() {
		author = SelfStyle.Render(ev.Message.Author)
	}
	ts := time.UnixMilli(ev.Message.TS)
	if ev.Message.TS == 0 {
		ts = m.now()
	}
	m.addLine(fmt.Sprintf("%s %s: %s", MutedStyle.Render(ts.Format("15:04")), author, ev.Message.Text))
}

func (m *RoomModel) nameOf(id protocol.ParticipantID) string {
	for _, p := range m.participants {
		if p.ID == id && p.Name != "" {
			return p.Name
		}
	}
	return id.Short()
}

func (m *RoomModel) addLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *RoomModel) refreshLog() {
	m.history.SetContent(strings.Join(m.lines, "\n"))
	m.history.GotoBottom()
}

// submit turns an input line into a chat message or a command.
func (m *RoomModel) submit(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		r := m.room
		return func() tea.Msg {
			_, err := r.SendChat(line)
			return noteMsg{err: err}
		}
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/leave":
		return m.quit()
	case "/help":
		m.addLine(MutedStyle.Render(helpText))
		return nil
	}
	r := m.room
	return func() tea.Msg {
		text, err := runCommand(r, name, args)
		return noteMsg{text: text, err: err}
	}
}

const helpText = "/hand  /mute audio|video  /screen  /renegotiate <id-prefix>  /quit"

// runCommand executes one slash command against r.
func runCommand(r Room, name string, args []string) (string, error) {
	switch name {
	case "/hand":
		up := !r.HandRaised()
		if err := r.RaiseHand(up); err != nil {
			return "", err
		}
		if up {
			return IconHand + " hand raised", nil
		}
		return "hand lowered", nil

	case "/mute":
		var kind webrtc.RTPCodecType
		switch {
		case len(args) != 1:
			return "", fmt.Errorf("%w: /mute audio|video", errUsage)
		case args[0] == "audio":
			kind = webrtc.RTPCodecTypeAudio
		case args[0] == "video":
			kind = webrtc.RTPCodecTypeVideo
		default:
			return "", fmt.Errorf("%w: /mute audio|video", errUsage)
		}
		muted := !r.Muted(kind)
		r.SetMuted(kind, muted)
		if muted {
			return fmt.Sprintf("%s %s muted", IconMuted, args[0]), nil
		}
		return args[0] + " unmuted", nil

	case "/screen":
		if r.Sharing() {
			r.StopScreenShare()
			return "screen share stopped", nil
		}
		if err := r.StartScreenShare(); err != nil {
			return "", err
		}
		return IconScreen + " sharing your screen", nil

	case "/renegotiate":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: /renegotiate <id-prefix>", errUsage)
		}
		if err := r.Renegotiate(args[0]); err != nil {
			return "", err
		}
		return "renegotiating with " + args[0], nil
	}
	return "", fmt.Errorf("unknown command %s, try /help", name)
}

func (m *RoomModel) quit() tea.Cmd {
	m.quitting = true
	r := m.room
	return tea.Sequence(func() tea.Msg {
		r.Leave()
		return nil
	}, tea.Quit)
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	status := m.spinner.View() + " connected"
	if !m.connected {
		status = ErrorStyle.Render("offline")
	}
	fmt.Fprintf(&b, "%s  %s  %s\n\n",
		HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.room.RoomID())),
		MutedStyle.Render("you are "+m.room.Self().Short()),
		status,
	)

	b.WriteString(ParticipantsView(m.participants))
	b.WriteString("\n\n")

	b.WriteString(PanelStyle.Render(m.history.View()))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	var flags []string
	if m.room.Muted(webrtc.RTPCodecTypeAudio) {
		flags = append(flags, IconMuted+" mic")
	}
	if m.room.Muted(webrtc.RTPCodecTypeVideo) {
		flags = append(flags, IconMuted+" cam")
	}
	if m.room.Sharing() {
		flags = append(flags, IconScreen+" sharing")
	}
	if m.room.HandRaised() {
		flags = append(flags, IconHand)
	}
	footer := helpText + "  ctrl+c quits"
	if len(flags) > 0 {
		footer = strings.Join(flags, "  ") + "  │  " + footer
	}
	b.WriteString(FooterStyle.Render(footer))

	return b.String()
}

func FormatError(err error) string {
	return fmt.Sprintf("%s %s", ErrorStyle.Render(IconError), ErrorStyle.Render(err.Error()))
}
