package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/term"

	"pacschat/cmd/internal/auth/session"
	"pacschat/cmd/internal/conversation"
)

const consoleHelp = `commands:
  /peers            list peers, most recent conversation first
  /online           list online peer ids
  /open <peer>      open the conversation with a peer (id or name)
  /close            close the open conversation
  /login <user>     log in (prompts for the password)
  /logout           log out
  /whoami           show the current session
  /quit             exit
any other line is sent to the open conversation`

// Console is the line-oriented page view. It reads commands from in and
// renders state changes to out; all output happens on the Run goroutine.
type Console struct {
	app  *App
	out  io.Writer
	view view

	lines   chan string
	more    chan struct{}
	pending bool

	// password reads a secret without echo; nil reads the next input line.
	password func() (string, error)

	fetch <-chan conversation.FetchResult

	shownPeer string
	shown     map[msgKey]int
}

type msgKey struct {
	sender string
	at     int64
	body   string
}

// NewConsole builds a console over in/out. When in is a terminal, passwords
// are read without echo.
func NewConsole(a *App, in io.Reader, out io.Writer) *Console {
	c := &Console{
		app:   a,
		out:   out,
		view:  newView(out),
		lines: make(chan string),
		more:  make(chan struct{}, 1),
		shown: map[msgKey]int{},
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		c.password = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(c.out)
			return string(b), err
		}
	}

	go c.read(in)
	return c
}

// read scans one line per request on c.more, so a password prompt can take
// the terminal without racing the scanner.
func (c *Console) read(in io.Reader) {
	defer close(c.lines)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), 64<<10)
	for range c.more {
		if !sc.Scan() {
			return
		}
		c.lines <- sc.Text()
	}
}

func (c *Console) requestLine() {
	if !c.pending {
		c.more <- struct{}{}
		c.pending = true
	}
}

// Navigate implements session.Navigator.
func (c *Console) Navigate(to session.Landing) {
	switch to {
	case session.LandingLogin:
		c.println(c.view.header("logged out; /login <user> to sign in"))
	case session.LandingAdmin:
		c.println(c.view.header("signed in (administrator)"))
	default:
		c.println(c.view.header("signed in"))
	}
}

// Run processes input and state changes until ctx is done, input ends or
// /quit is entered.
func (c *Console) Run(ctx context.Context) error {
	c.app.nav.attach(c)
	defer c.app.nav.attach(nil)

	st := c.app.State()
	if s, ok := c.app.Current(); ok {
		c.println(c.view.header("signed in as " + s.DisplayName + " (" + s.SubjectID + "); /help for commands"))
	} else {
		c.println(c.view.header("not signed in; /login <user> to sign in"))
	}

	for {
		c.requestLine()

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.lines:
			c.pending = false
			if !ok {
				return nil
			}
			quit, err := c.exec(ctx, line)
			if err != nil {
				c.println(c.view.errorLine(err))
			}
			if quit {
				return nil
			}
		case n := <-st.Notices():
			c.println(c.view.noticeLine(n))
		case res := <-c.fetch:
			c.fetch = nil
			if res.Err != nil && !res.Stale {
				c.println(c.view.errorLine(fmt.Errorf("history %s: %w", res.PeerID, res.Err)))
			}
		case <-st.Changes():
			c.refresh()
		}
	}
}

func (c *Console) exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.send(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		c.println(consoleHelp)
	case "/quit", "/exit":
		return true, nil
	case "/whoami":
		s, ok := c.app.Current()
		if !ok {
			return false, ErrNotAuthenticated
		}
		c.println(fmt.Sprintf("%s (%s) role=%s expires=%s", s.DisplayName, s.SubjectID, s.Role, s.ExpiresAt.Local().Format(time.RFC3339)))
	case "/login":
		return false, c.login(ctx, arg)
	case "/logout":
		return false, c.app.Logout(ctx)
	case "/peers":
		return false, c.listPeers()
	case "/online":
		return false, c.listOnline()
	case "/open":
		return false, c.open(ctx, arg)
	case "/close":
		c.app.State().DeselectPeer()
	default:
		return false, fmt.Errorf("unknown command %q, try /help", cmd)
	}
	return false, nil
}

func (c *Console) login(ctx context.Context, user string) error {
	if user == "" {
		return errors.New("usage: /login <user>")
	}
	c.print("password: ")
	pass, err := c.readSecret(ctx)
	if err != nil {
		return err
	}
	_, err = c.app.Login(ctx, user, pass)
	return err
}

func (c *Console) readSecret(ctx context.Context) (string, error) {
	if c.password != nil {
		return c.password()
	}
	c.requestLine()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		c.pending = false
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

func (c *Console) listPeers() error {
	if _, ok := c.app.Current(); !ok {
		return ErrNotAuthenticated
	}
	st := c.app.State()
	snap := st.Snapshot()

	n := 0
	for p := range st.OrderedPeers() {
		c.println(c.view.peerLine(p, snap.Online.Has(p.ID), snap.Aggregates[p.ID], p.ID == snap.ActivePeer))
		n++
	}
	if n == 0 {
		c.println(c.view.header("no peers"))
	}
	return nil
}

func (c *Console) listOnline() error {
	if _, ok := c.app.Current(); !ok {
		return ErrNotAuthenticated
	}
	snap := c.app.State().Snapshot()
	ids := make([]string, 0, len(snap.Online))
	for id := range snap.Online {
		if id != snap.Self.ID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) == 0 {
		c.println(c.view.header("nobody else is online"))
		return nil
	}
	c.println(strings.Join(ids, "\n"))
	return nil
}

func (c *Console) open(ctx context.Context, ref string) error {
	if _, ok := c.app.Current(); !ok {
		return ErrNotAuthenticated
	}
	if ref == "" {
		return errors.New("usage: /open <peer>")
	}
	p, ok := c.findPeer(ref)
	if !ok {
		return fmt.Errorf("%w: %s", conversation.ErrUnknownPeer, ref)
	}
	c.fetch = c.app.State().SelectPeer(ctx, p.ID)
	return nil
}

func (c *Console) findPeer(ref string) (conversation.Peer, bool) {
	st := c.app.State()
	if p, ok := st.Peer(ref); ok {
		return p, true
	}
	for _, p := range st.Peers() {
		if strings.EqualFold(p.DisplayName, ref) {
			return p, true
		}
	}
	return conversation.Peer{}, false
}

func (c *Console) send(body string) error {
	if _, ok := c.app.Current(); !ok {
		return ErrNotAuthenticated
	}
	active := c.app.State().Snapshot().ActivePeer
	if active == "" {
		return errors.New("no conversation open, use /open <peer>")
	}
	return c.app.State().Send(body, active)
}

// refresh prints active-log entries not shown yet. Switching peers or a
// history reload starts over with a header.
func (c *Console) refresh() {
	snap := c.app.State().Snapshot()

	if snap.ActivePeer != c.shownPeer {
		c.shownPeer = snap.ActivePeer
		clear(c.shown)
		if snap.ActivePeer != "" {
			name := snap.ActivePeer
			if p, ok := c.app.State().Peer(snap.ActivePeer); ok {
				name = displayName(p)
			}
			c.println(c.view.header("conversation with " + name))
		}
	}

	seen := make(map[msgKey]int, len(snap.ActiveLog))
	for _, m := range snap.ActiveLog {
		k := msgKey{sender: m.SenderID, at: m.CreatedAt.UnixNano(), body: m.Body}
		seen[k]++
		if seen[k] > c.shown[k] {
			c.println(c.view.messageLine(m, snap.Self.ID))
			c.shown[k] = seen[k]
		}
	}
}

func (c *Console) println(s string) { fmt.Fprintln(c.out, s) }

func (c *Console) print(s string) { fmt.Fprint(c.out, s) }
