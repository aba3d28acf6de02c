package app

import (
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pacschat/cmd/internal/conversation"
)

// view renders console lines. Styles follow the color profile detected for
// the output writer, so a pipe or buffer gets plain text.
type view struct {
	self     lipgloss.Style
	peer     lipgloss.Style
	online   lipgloss.Style
	offline  lipgloss.Style
	badge    lipgloss.Style
	muted    lipgloss.Style
	active   lipgloss.Style
	notice   lipgloss.Style
	errStyle lipgloss.Style
}

func newView(w io.Writer) view {
	r := lipgloss.NewRenderer(w)
	return view{
		self:     r.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true),
		peer:     r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		online:   r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		offline:  r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		badge:    r.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Background(lipgloss.Color("#EF4444")).Bold(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		active:   r.NewStyle().Underline(true),
		notice:   r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		errStyle: r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}

// peerLine renders one directory entry: presence dot, name, id, unread badge.
func (v view) peerLine(p conversation.Peer, online bool, agg conversation.Aggregate, active bool) string {
	var b strings.Builder

	if active {
		b.WriteString("> ")
	} else {
		b.WriteString("  ")
	}
	if online {
		b.WriteString(v.online.Render("●"))
	} else {
		b.WriteString(v.offline.Render("○"))
	}
	b.WriteByte(' ')

	name := displayName(p)
	if active {
		name = v.active.Render(name)
	}
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(v.muted.Render("(" + p.ID + ")"))

	if agg.Unread > 0 {
		b.WriteByte(' ')
		b.WriteString(v.badge.Render(" " + strconv.Itoa(agg.Unread) + " "))
	}
	return b.String()
}

func (v view) messageLine(m conversation.Message, selfID string) string {
	ts := v.muted.Render(m.CreatedAt.Local().Format("15:04"))
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	if m.SenderID == selfID {
		who = v.self.Render("me")
	} else {
		who = v.peer.Render(who)
	}
	return ts + " " + who + ": " + m.Body
}

func (v view) noticeLine(n conversation.Notice) string {
	who := n.SenderName
	if who == "" {
		who = n.PeerID
	}
	return v.notice.Render("✉ new message from "+who+": ") + truncateBody(n.Body, 60)
}

func (v view) header(text string) string {
	return v.muted.Render("── " + text + " ──")
}

func (v view) errorLine(err error) string {
	return v.errStyle.Render("error: " + err.Error())
}

func displayName(p conversation.Peer) string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.ID
}

func truncateBody(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + ellipsis
}
