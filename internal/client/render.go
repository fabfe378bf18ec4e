package client

import (
	"time"

	"github.com/charmbracelet/lipgloss"

	"chatrelay/internal/protocol"
)

var (
	green   = lipgloss.Color("82")
	yellow  = lipgloss.Color("220")
	magenta = lipgloss.Color("201")
	blue    = lipgloss.Color("75")
	white   = lipgloss.Color("255")
	gray    = lipgloss.Color("241")

	tsStyle   = lipgloss.NewStyle().Foreground(gray).Italic(true)
	textStyle = lipgloss.NewStyle().Foreground(white)

	senderStyles = map[protocol.Style]lipgloss.Style{
		protocol.StyleUser:     lipgloss.NewStyle().Foreground(green),
		protocol.StyleYourself: lipgloss.NewStyle().Foreground(yellow),
		protocol.StyleAdmin:    lipgloss.NewStyle().Foreground(magenta),
		protocol.StyleServer:   lipgloss.NewStyle().Background(blue).Foreground(white),
	}
	serverTextStyle = lipgloss.NewStyle().Foreground(blue)

	noticeSenderStyle = lipgloss.NewStyle().Background(white).Foreground(lipgloss.Color("0"))
	noticeTextStyle   = lipgloss.NewStyle().Foreground(white).Bold(true)
)

// Render formats msg as "[HH:MM] sender: text" in local time.
func Render(msg protocol.ChatMessage) string {
	sender, ok := senderStyles[msg.Style]
	if !ok {
		sender = senderStyles[protocol.StyleUser]
	}
	text := textStyle
	if msg.Style == protocol.StyleServer {
		text = serverTextStyle
	}
	return line(msg.Time(), sender.Render(msg.Sender), text.Render(msg.Text))
}

// RenderNotice formats a message generated by the client itself.
func RenderNotice(text string, now time.Time) string {
	return line(now, noticeSenderStyle.Render("System"), noticeTextStyle.Render(text))
}

func line(ts time.Time, sender, text string) string {
	return tsStyle.Render("["+ts.Local().Format("15:04")+"]") + " " + sender + ": " + text
}
