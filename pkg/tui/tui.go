// Package tui provides a terminal client for a musicpi server
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/musicpi/pkg/export"
	"github.com/james-see/musicpi/pkg/mpp"
	"github.com/james-see/musicpi/pkg/music"
	"github.com/james-see/musicpi/pkg/rfid"
)

// Acid-inspired color scheme
var (
	acidGreen  = lipgloss.Color("#39FF14")
	acidYellow = lipgloss.Color("#FFFF00")
	silverGray = lipgloss.Color("#C0C0C0")
	darkGray   = lipgloss.Color("#333333")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(acidGreen).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(acidGreen).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(acidYellow).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(acidGreen).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(acidGreen).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateLogin State = iota
	StateWaiting
	StateList
	StateDetail
	StateResult
)

// Client is the subset of the protocol client the TUI drives
type Client interface {
	Connect(userKey string) (*mpp.Response, error)
	ListMusic(userKey string) (*mpp.Response, error)
	GetMusic(userKey string, id int64) (*mpp.Response, error)
	DeleteMusic(userKey string, id int64) (*mpp.Response, error)
}

// Model represents the TUI model
type Model struct {
	state    State
	client   Client
	reader   rfid.Reader
	outDir   string
	input    textinput.Model
	spinner  spinner.Model
	waiting  string
	userKey  string
	username string
	ids      []int64
	index    int
	current  *music.Music
	message  string
	err      error
	width    int
	height   int
}

type loginMsg struct {
	userKey  string
	username string
	err      error
}

type tagMsg struct {
	tag string
	err error
}

type listMsg struct {
	ids []int64
	err error
}

type musicMsg struct {
	music *music.Music
	err   error
}

type deletedMsg struct {
	id  int64
	err error
}

type exportedMsg struct {
	path string
	err  error
}

// New creates a TUI over client. reader may be nil to log in by typing the
// key; exports are written to outDir.
func New(client Client, reader rfid.Reader, outDir string) Model {
	ti := textinput.New()
	ti.Placeholder = "RFID key"
	ti.CharLimit = mpp.UserKeySize
	ti.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(acidGreen)

	if outDir == "" {
		outDir = "."
	}
	return Model{
		state:   StateLogin,
		client:  client,
		reader:  reader,
		outDir:  outDir,
		input:   ti,
		spinner: s,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.reader != nil {
		cmds = append(cmds, readTag(m.reader))
	}
	return tea.Batch(cmds...)
}

func readTag(r rfid.Reader) tea.Cmd {
	return func() tea.Msg {
		tag, err := r.ReadTag(context.Background())
		return tagMsg{tag: tag, err: err}
	}
}

func connect(c Client, key string) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.Connect(key)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return loginMsg{userKey: key, err: err}
		}
		return loginMsg{userKey: key, username: resp.Username}
	}
}

func listMusic(c Client, key string) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.ListMusic(key)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return listMsg{err: err}
		}
		return listMsg{ids: resp.MusicIDs.IDs()}
	}
}

func getMusic(c Client, key string, id int64) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.GetMusic(key, id)
		if err == nil {
			err = resp.Err()
		}
		if err != nil {
			return musicMsg{err: err}
		}
		return musicMsg{music: resp.Music}
	}
}

func deleteMusic(c Client, key string, id int64) tea.Cmd {
	return func() tea.Msg {
		resp, err := c.DeleteMusic(key, id)
		if err == nil {
			err = resp.Err()
		}
		return deletedMsg{id: id, err: err}
	}
}

func exportMusic(m *music.Music, dir, ext string) tea.Cmd {
	return func() tea.Msg {
		path := filepath.Join(dir, fmt.Sprintf("%d%s", m.CreatedAt, ext))
		var err error
		switch ext {
		case ".mid":
			err = export.NewMIDIExporter().WriteMIDIFile(m, path)
		case ".wav":
			err = export.NewWAVExporter().WriteWAVFile(m, path)
		default:
			err = fmt.Errorf("unknown export format %s", ext)
		}
		return exportedMsg{path: path, err: err}
	}
}

func (m Model) wait(label string, cmd tea.Cmd) (Model, tea.Cmd) {
	m.state = StateWaiting
	m.waiting = label
	return m, tea.Batch(m.spinner.Tick, cmd)
}

func (m Model) result(message string, err error) Model {
	m.state = StateResult
	m.message = message
	m.err = err
	return m
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case StateLogin:
			return m.updateLogin(msg)
		case StateList:
			return m.updateList(msg)
		case StateDetail:
			return m.updateDetail(msg)
		case StateResult:
			return m.updateResult(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tagMsg:
		if m.state != StateLogin {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.input.SetValue(msg.tag)
		return m.wait("Connecting", connect(m.client, msg.tag))

	case loginMsg:
		if msg.err != nil {
			m.state = StateLogin
			m.err = fmt.Errorf("login refused: %w", msg.err)
			m.input.SetValue("")
			var cmd tea.Cmd
			if m.reader != nil {
				cmd = readTag(m.reader)
			}
			return m, cmd
		}
		m.err = nil
		m.userKey = msg.userKey
		m.username = msg.username
		m.state = StateList
		return m.wait("Loading musics", listMusic(m.client, m.userKey))

	case listMsg:
		if msg.err != nil {
			return m.result("", msg.err), nil
		}
		m.ids = msg.ids
		if m.index >= len(m.ids) {
			m.index = max(len(m.ids)-1, 0)
		}
		// A refresh after delete arrives while the result is shown
		if m.state == StateWaiting {
			m.state = StateList
		}
		return m, nil

	case musicMsg:
		if msg.err != nil {
			return m.result("", msg.err), nil
		}
		m.current = msg.music
		m.state = StateDetail
		return m, nil

	case deletedMsg:
		if msg.err != nil {
			return m.result("", msg.err), nil
		}
		m.current = nil
		m = m.result(fmt.Sprintf("Music %d deleted", msg.id), nil)
		return m, listMusic(m.client, m.userKey)

	case exportedMsg:
		if msg.err != nil {
			return m.result("", msg.err), nil
		}
		return m.result("Exported to "+msg.path, nil), nil
	}

	if m.state == StateLogin {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		key := strings.TrimSpace(m.input.Value())
		if key == "" {
			return m, nil
		}
		return m.wait("Connecting", connect(m.client, key))
	case tea.KeyEsc:
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) selected() (int64, bool) {
	if m.index < 0 || m.index >= len(m.ids) {
		return 0, false
	}
	return m.ids[m.index], true
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.index > 0 {
			m.index--
		}
	case "down", "j":
		if m.index < len(m.ids)-1 {
			m.index++
		}
	case "enter":
		if id, ok := m.selected(); ok {
			return m.wait("Fetching music", getMusic(m.client, m.userKey, id))
		}
	case "d":
		if id, ok := m.selected(); ok {
			return m.wait("Deleting music", deleteMusic(m.client, m.userKey, id))
		}
	case "r":
		return m.wait("Loading musics", listMusic(m.client, m.userKey))
	case "esc":
		return m.logout()
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) logout() (tea.Model, tea.Cmd) {
	m.state = StateLogin
	m.userKey = ""
	m.username = ""
	m.ids = nil
	m.index = 0
	m.current = nil
	m.input.SetValue("")
	if m.reader != nil {
		return m, readTag(m.reader)
	}
	return m, nil
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "m":
		return m.wait("Exporting MIDI", exportMusic(m.current, m.outDir, ".mid"))
	case "w":
		return m.wait("Rendering WAV", exportMusic(m.current, m.outDir, ".wav"))
	case "d":
		return m.wait("Deleting music", deleteMusic(m.client, m.userKey, m.current.CreatedAt))
	case "esc":
		m.state = StateList
		m.current = nil
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.message = ""
		m.err = nil
		if m.current != nil {
			m.state = StateDetail
		} else {
			m.state = StateList
		}
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	var help string
	switch m.state {
	case StateLogin:
		s.WriteString(m.viewLogin())
		help = "enter: connect • esc: quit"
	case StateWaiting:
		s.WriteString(m.viewWaiting())
	case StateList:
		s.WriteString(m.viewList())
		help = "↑/↓: navigate • enter: open • d: delete • r: refresh • esc: logout • q: quit"
	case StateDetail:
		s.WriteString(m.viewDetail())
		help = "m: export MIDI • w: export WAV • d: delete • esc: back • q: quit"
	case StateResult:
		s.WriteString(m.viewResult())
		help = "enter: continue • q: quit"
	}

	if help != "" {
		s.WriteString("\n")
		s.WriteString(helpStyle.Render(help))
	}
	return s.String()
}

func (m Model) viewLogin() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" LOGIN "))
	s.WriteString("\n\n")
	if m.reader != nil {
		s.WriteString(statusStyle.Render("Present your badge, or type your key"))
		s.WriteString("\n\n")
	}
	s.WriteString(m.input.View())
	if m.err != nil {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	}
	return boxStyle.Render(s.String())
}

func (m Model) viewWaiting() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" WORKING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s %s...", m.spinner.View(), m.waiting))
	return boxStyle.Render(s.String())
}

func (m Model) viewList() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf(" %s'S MUSICS ", strings.ToUpper(m.username))))
	s.WriteString("\n\n")
	if len(m.ids) == 0 {
		s.WriteString(menuStyle.Render("No music yet"))
		s.WriteString("\n")
	}
	for i, id := range m.ids {
		if i == m.index {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %d", id)))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %d", id)))
		}
		s.WriteString("\n")
	}
	return boxStyle.Render(s.String())
}

func (m Model) viewDetail() string {
	var s strings.Builder

	mu := m.current
	s.WriteString(titleStyle.Render(fmt.Sprintf(" MUSIC %d ", mu.CreatedAt)))
	s.WriteString("\n\n")
	s.WriteString(statusStyle.Render(fmt.Sprintf("%d bpm • %d notes • %d lines", mu.BPM, mu.NoteCount(), mu.Length())))
	s.WriteString("\n")
	for _, ch := range mu.Channels {
		s.WriteString("\n")
		s.WriteString(selectedStyle.Render(fmt.Sprintf("Channel %d", ch.ID)))
		s.WriteString("\n")
		lines := ch.Lines()
		if len(lines) == 0 {
			s.WriteString(menuStyle.Render("(empty)"))
			s.WriteString("\n")
			continue
		}
		for _, line := range lines {
			n := ch.Get(line)
			s.WriteString(menuStyle.Render(fmt.Sprintf("%4d  %-2s%d  %-10s %s", line, n.Name(), n.Octave, n.Instrument, n.Duration)))
			s.WriteString("\n")
		}
	}
	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	if m.err != nil {
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	} else {
		s.WriteString(titleStyle.Render(" SUCCESS "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ " + m.message))
	}
	return boxStyle.Render(s.String())
}

func asciiLogo() string {
	logo := `
   __  __ _   _ ____ ___ ____ ____  ___
  |  \/  | | | / ___|_ _/ ___|  _ \|_ _|
  | |\/| | | | \___ \| | |   | |_) || |
  | |  | | |_| |___) | | |___|  __/ | |
  |_|  |_|\___/|____/___\____|_|   |___|
`
	return lipgloss.NewStyle().Foreground(acidGreen).Render(logo)
}

// Run starts the TUI application
func Run(client Client, reader rfid.Reader, outDir string) error {
	p := tea.NewProgram(New(client, reader, outDir), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
