// chatrelay terminal client.
//
// Modes
// -----
//   modeChat    – Enter sends the input line to the relay
//   modeCommand – Enter runs a local command (exit, help); Esc toggles
//
// Concurrency
// -----------
//   A single goroutine reads frames from the relay and forwards decoded
//   messages to the msgs channel. The Bubbletea event loop consumes one
//   message at a time via waitForMsg (a tea.Cmd), immediately queuing the
//   next read after each message is processed.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatrelay/internal/client"
	"chatrelay/internal/protocol"
)

// messageMaxLength caps what can be typed into the input line.
const messageMaxLength = 256

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple  = lipgloss.Color("99")
	magenta = lipgloss.Color("201")
	gray    = lipgloss.Color("241")
	white   = lipgloss.Color("255")
	black   = lipgloss.Color("0")
	red     = lipgloss.Color("196")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray)

	chatLabelStyle    = lipgloss.NewStyle().Background(white).Foreground(black)
	commandLabelStyle = lipgloss.NewStyle().Background(magenta).Foreground(white)
	errorStyle        = lipgloss.NewStyle().Foreground(red)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type chatMsg protocol.ChatMessage // a message arrived from the relay
type disconnectedMsg struct{ err error }

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type inputMode int

const (
	modeChat inputMode = iota
	modeCommand
)

type model struct {
	conn *client.Conn
	msgs <-chan protocol.ChatMessage
	errc <-chan error

	mode      inputMode
	ready     bool
	viewport  viewport.Model
	input     textinput.Model
	chatLines []string
	exitMsg   string

	width, height int
}

func newModel(conn *client.Conn, msgs <-chan protocol.ChatMessage, errc <-chan error) model {
	in := textinput.New()
	in.Placeholder = "Type a message…"
	in.CharLimit = messageMaxLength
	in.Prompt = ""
	in.Focus()

	m := model{
		conn:  conn,
		msgs:  msgs,
		errc:  errc,
		mode:  modeChat,
		input: in,
	}
	m.chatLines = append(m.chatLines, client.RenderNotice(conn.Welcome()+", "+conn.Username()+". Esc toggles command mode.", time.Now()))
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForMsg(m.msgs, m.errc))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.input.Width = msg.Width - lipgloss.Width(m.label()) - 2
		m.refresh()
		return m, nil

	case chatMsg:
		m.appendLine(client.Render(protocol.ChatMessage(msg)))
		return m, waitForMsg(m.msgs, m.errc)

	case disconnectedMsg:
		m.exitMsg = "Connection with server closed"
		if msg.err != nil && !errors.Is(msg.err, io.EOF) {
			m.exitMsg += ": " + msg.err.Error()
		}
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// vpHeight returns the number of lines available for the chat viewport.
func (m model) vpHeight() int {
	// header (1) + footer border (1) + input (1)
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.exitMsg = "Bye"
		return m, tea.Quit

	case tea.KeyEsc:
		m.input.Reset()
		if m.mode == modeChat {
			m.mode = modeCommand
			m.input.Placeholder = "exit, help"
		} else {
			m.mode = modeChat
			m.input.Placeholder = "Type a message…"
		}
		return m, nil

	case tea.KeyEnter:
		text := m.input.Value()
		m.input.Reset()
		if m.mode == modeCommand {
			return m.runCommand(text)
		}
		if err := m.conn.Send(text); err != nil {
			m.appendLine(errorStyle.Render("⚠ send failed: " + err.Error()))
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) runCommand(text string) (model, tea.Cmd) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "exit", "e", "quit", "q":
		m.exitMsg = "Bye"
		return m, tea.Quit
	case "help", "?":
		m.appendLine(client.RenderNotice("(E)xit, (Q)uit - closes app", time.Now()))
	case "":
	default:
		m.appendLine(client.RenderNotice("Unknown command", time.Now()))
	}
	return m, nil
}

// appendLine adds a rendered line and scrolls the viewport to the bottom.
func (m *model) appendLine(line string) {
	m.chatLines = append(m.chatLines, line)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) label() string {
	if m.mode == modeCommand {
		return commandLabelStyle.Render("COMMAND>")
	}
	return chatLabelStyle.Render("CHAT>")
}

func (m model) View() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" chatrelay  ·  %s  ·  Esc: commands  PgUp/Dn: Scroll  Ctrl+C: Quit", m.conn.Username()))

	footer := footerBorderStyle.
		Width(m.width).
		Render(m.label() + " " + m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// waitForMsg returns a tea.Cmd that blocks until the next chat message
// arrives. When msgs is closed the reader's error is reported.
func waitForMsg(msgs <-chan protocol.ChatMessage, errc <-chan error) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-msgs
		if !ok {
			return disconnectedMsg{err: <-errc}
		}
		return chatMsg(msg)
	}
}

// receive pumps relay frames into msgs until the connection fails.
func receive(conn *client.Conn, msgs chan<- protocol.ChatMessage, errc chan<- error) {
	defer close(msgs)
	for {
		msg, err := conn.Receive()
		if err != nil {
			errc <- err
			return
		}
		msgs <- msg
	}
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <server address>:<port> <username>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	addr, username := os.Args[1], os.Args[2]

	if err := client.ValidateUsername(username); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	conn, err := client.Dial(addr, username)
	if err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) {
			fmt.Fprintf(os.Stderr, "Username %q: %s\n", username, rejected.Reason)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	// msgs bridges the relay reader goroutine and the Bubbletea event loop.
	msgs := make(chan protocol.ChatMessage, 64)
	errc := make(chan error, 1)
	go receive(conn, msgs, errc)

	p := tea.NewProgram(
		newModel(conn, msgs, errc),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.exitMsg != "" {
		fmt.Println(m.exitMsg)
	}
}
