package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"captain/internal/delivery"
	"captain/internal/models"
	"captain/internal/session"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdRead
	cmdNotifications
	cmdReadAll
	cmdAck
	cmdNotify
	cmdSync
	cmdOrders
	cmdOffline
	cmdOnline
	cmdHelp
	cmdQuit
	cmdEmpty
	cmdUnknown
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand turns an input line into a command. Lines not starting with
// a slash are chat text.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{kind: cmdEmpty}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: cmdSend, arg: line}
	}

	name, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/read":
		return command{kind: cmdRead}
	case "/notifs":
		return command{kind: cmdNotifications}
	case "/readall":
		return command{kind: cmdReadAll}
	case "/ack":
		return command{kind: cmdAck, arg: arg}
	case "/notify":
		return command{kind: cmdNotify, arg: arg}
	case "/sync":
		return command{kind: cmdSync}
	case "/orders":
		return command{kind: cmdOrders}
	case "/offline":
		return command{kind: cmdOffline}
	case "/online":
		return command{kind: cmdOnline}
	case "/help":
		return command{kind: cmdHelp}
	case "/quit", "/exit":
		return command{kind: cmdQuit}
	}
	return command{kind: cmdUnknown, arg: name}
}

// parseDraft reads "<type> <title> | <body>".
func parseDraft(arg string) (models.NotificationDraft, error) {
	kind, rest, ok := strings.Cut(arg, " ")
	if !ok {
		return models.NotificationDraft{}, fmt.Errorf("usage: /notify <type> <title> | <body>")
	}
	title, body, ok := strings.Cut(rest, "|")
	if !ok {
		return models.NotificationDraft{}, fmt.Errorf("usage: /notify <type> <title> | <body>")
	}
	return models.NotificationDraft{
		Title: strings.TrimSpace(title),
		Body:  strings.TrimSpace(body),
		Type:  models.NotificationType(kind),
	}, nil
}

type console struct {
	mu   sync.Mutex
	out  io.Writer
	self models.Sender

	mine    lipgloss.Style
	theirs  lipgloss.Style
	muted   lipgloss.Style
	banner  lipgloss.Style
	warning lipgloss.Style
	order   lipgloss.Style
}

func newConsole(out io.Writer, self models.Sender) *console {
	r := lipgloss.NewRenderer(out)
	return &console{
		out:     out,
		self:    self,
		mine:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		theirs:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		banner:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")).Padding(0, 1),
		warning: r.NewStyle().Foreground(lipgloss.Color("9")),
		order:   r.NewStyle().Foreground(lipgloss.Color("14")),
	}
}

func (c *console) attach(sess *session.Session) {
	sess.Chat.Watch(func(t delivery.Transition) {
		c.println(c.renderTransition(t))
	})
	sess.Notifications.WatchBanner(func(n *models.Notification) {
		if n != nil {
			c.println(c.renderBanner(*n))
		}
	})
	sess.Typing.Watch(func(typing bool) {
		if typing {
			c.println(c.muted.Render(string(c.self.Peer()) + " is typing..."))
		}
	})
	sess.Orders.OnChange(func(orders []models.Order) {
		c.println(c.muted.Render(fmt.Sprintf("%d open orders", len(orders))))
	})
	sess.WatchConnection(func(state models.ConnectionState) {
		c.println(c.muted.Render("connection: " + string(state)))
	})
}

// execute runs one command against the session and reports whether the
// client should exit.
func (c *console) execute(ctx context.Context, sess *session.Session, cmd command) bool {
	switch cmd.kind {
	case cmdEmpty:
	case cmdSend:
		sess.Typing.InputChanged(cmd.arg)
		if _, err := sess.Chat.Send(ctx, cmd.arg); err != nil {
			c.errorf("send failed: %v", err)
		}
		sess.Typing.SetLocalTyping(false)
	case cmdRead:
		c.println(c.muted.Render(fmt.Sprintf("marked %d messages read", sess.Chat.MarkRead(ctx))))
	case cmdNotifications:
		c.printNotifications(sess.Notifications.Notifications(), sess.Notifications.UnreadCount())
	case cmdReadAll:
		c.println(c.muted.Render(fmt.Sprintf("marked %d notifications read", sess.Notifications.MarkAllAsRead())))
	case cmdAck:
		if !sess.Notifications.MarkAsRead(cmd.arg) {
			c.errorf("no unread notification %q", cmd.arg)
		}
	case cmdNotify:
		draft, err := parseDraft(cmd.arg)
		if err == nil {
			_, err = sess.Notifications.CreateLocal(draft)
		}
		if err != nil {
			c.errorf("%v", err)
		}
	case cmdSync:
		if err := sess.Notifications.Sync(ctx); err != nil {
			c.errorf("sync failed: %v", err)
		}
	case cmdOrders:
		c.printOrders(sess.Orders.Orders())
	case cmdOffline:
		_ = sess.SetOnline(ctx, false)
	case cmdOnline:
		if err := sess.SetOnline(ctx, true); err != nil {
			c.errorf("reconnect failed: %v", err)
		}
	case cmdHelp:
		c.help()
	case cmdQuit:
		return true
	case cmdUnknown:
		c.errorf("unknown command %s, try /help", cmd.arg)
	}
	return false
}

func (c *console) help() {
	c.println(c.muted.Render(strings.Join([]string{
		"type a message and press enter to send",
		"/read  /notifs  /readall  /ack <id>  /notify <type> <title> | <body>",
		"/sync  /orders  /offline  /online  /quit",
	}, "\n")))
}

func (c *console) renderTransition(t delivery.Transition) string {
	msg := t.Message
	if msg.Sender != c.self {
		return c.theirs.Render(string(msg.Sender)+":") + " " + msg.Text + " " + c.muted.Render(msg.Timestamp)
	}
	return c.mine.Render("you:") + " " + msg.Text + " " + c.muted.Render(msg.Timestamp+" "+statusMark(msg.Status))
}

func (c *console) renderBanner(n models.Notification) string {
	return c.banner.Render(strings.ToUpper(string(n.Type))+" "+n.Title) + " " + n.Body
}

func (c *console) printNotifications(list []models.Notification, unread int) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d notifications, %d unread", len(list), unread)
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(&b, "\n%s %s [%s] %s: %s", mark, n.ID, n.Type, n.Title, n.Body)
	}
	c.println(b.String())
}

func (c *console) printOrders(orders []models.Order) {
	if len(orders) == 0 {
		c.println(c.muted.Render("no open orders"))
		return
	}
	lines := make([]string, 0, len(orders))
	for _, o := range orders {
		lines = append(lines, fmt.Sprintf("%s  %s  %s  %s  %s", o.ID, o.Type, o.Price, o.Distance, strings.Join(o.Stores, ", ")))
	}
	c.println(c.order.Render(strings.Join(lines, "\n")))
}

func (c *console) errorf(format string, args ...interface{}) {
	c.println(c.warning.Render(fmt.Sprintf(format, args...)))
}

func (c *console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

func statusMark(status models.MessageStatus) string {
	switch status {
	case models.MessageStatusSending:
		return "..."
	case models.MessageStatusSent:
		return "✓"
	case models.MessageStatusDelivered:
		return "✓✓"
	case models.MessageStatusRead:
		return "read"
	}
	return ""
}
