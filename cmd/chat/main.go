package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomfeed/internal/client"
	"github.com/vovakirdan/roomfeed/internal/feed"
	"github.com/vovakirdan/roomfeed/internal/log"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	addr     string
	email    string
	password string
	name     string
	token    string
	room     string
	signup   bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "roomfeed-chat",
		Short:        "Terminal client for a roomfeed server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, os.Stdin, os.Stdout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.email, "email", "", "account email")
	flags.StringVar(&opts.password, "password", "", "account password")
	flags.StringVar(&opts.name, "name", "", "display name (with --signup)")
	flags.BoolVar(&opts.signup, "signup", false, "create the account first")
	flags.StringVar(&opts.token, "token", "", "use an existing token instead of email/password")
	flags.StringVar(&opts.room, "room", proto.DefaultRoomName, "room to open (\"default\" or a group ID)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	logger := log.New(opts.logLevel, "console")
	c := client.New(opts.addr, nil)

	switch {
	case opts.token != "":
		c.SetToken(opts.token)
	case opts.signup:
		if _, err := c.SignUp(ctx, opts.email, opts.password, opts.name); err != nil {
			return fmt.Errorf("sign up: %w", err)
		}
	default:
		if _, err := c.SignIn(ctx, opts.email, opts.password); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	}
	me, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	con := &console{w: out}
	view := &terminalView{out: con}
	syncer := feed.New(feed.Session{
		ViewerID: me.UID,
		Stream:   client.NewStream(c, logger),
		Blocks:   c,
		Authors:  c,
	}, view, logger)
	defer syncer.Close()

	if err := syncer.Start(ctx, proto.ParseRoom(opts.room)); err != nil {
		return fmt.Errorf("open room: %w", err)
	}

	con.printf("Signed in as %s. Type a message and press Enter. /help lists commands.\n", me.DisplayName)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sh := &shell{ctx: ctx, client: c, syncer: syncer, out: con}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := sh.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

type shell struct {
	ctx    context.Context
	client *client.Client
	syncer *feed.Synchronizer
	out    *console
}

const helpText = `commands:
  /room <id>      open a group room
  /default        open the default room
  /groups         list your groups
  /search <text>  filter messages (empty clears)
  /next, /prev    move between matches
  /gif <query>    send the first GIF for query
  /delete <id>    delete one of your messages
  /block <uid>    hide a user's messages
  /unblock <uid>  show a user's messages again
  /quit           exit`

// handle runs one input line and reports whether to exit.
func (s *shell) handle(line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := s.client.SendText(s.ctx, s.syncer.Room(), line); err != nil {
			s.printErr(err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		s.out.println(helpText)
	case "/room":
		if arg == "" {
			s.out.println("usage: /room <id>")
			break
		}
		s.selectRoom(proto.ParseRoom(arg))
	case "/default":
		s.selectRoom(feed.DefaultRoom)
	case "/groups":
		groups, err := s.client.Groups(s.ctx)
		if err != nil {
			s.printErr(err)
			break
		}
		for _, g := range groups {
			s.out.printf("  %s  %s (%d members)\n", g.ID, g.Name, len(g.Members))
		}
	case "/search":
		s.syncer.SetQuery(arg)
		s.printMatch(s.syncer.Current())
	case "/next":
		s.printMatch(s.syncer.Next())
	case "/prev":
		s.printMatch(s.syncer.Prev())
	case "/gif":
		results, err := s.client.SearchGIFs(s.ctx, arg)
		if err != nil {
			s.printErr(err)
			break
		}
		if len(results) == 0 {
			s.out.println("no GIFs found")
			break
		}
		if _, err := s.client.SendGIF(s.ctx, s.syncer.Room(), results[0].URL); err != nil {
			s.printErr(err)
		}
	case "/delete":
		if err := s.client.DeleteMessage(s.ctx, arg); err != nil {
			s.printErr(err)
		}
	case "/block", "/unblock":
		s.updateBlock(cmd == "/block", arg)
	default:
		s.out.printf("unknown command %s\n", cmd)
	}
	return false
}

func (s *shell) selectRoom(room feed.Room) {
	if err := s.syncer.SelectRoom(s.ctx, room); err != nil {
		s.printErr(err)
	}
}

func (s *shell) updateBlock(block bool, uid string) {
	var err error
	if block {
		err = s.client.Block(s.ctx, uid)
	} else {
		err = s.client.Unblock(s.ctx, uid)
	}
	if err != nil {
		s.printErr(err)
		return
	}
	ids, err := s.client.BlockedAuthors(s.ctx)
	if err != nil {
		s.printErr(err)
		return
	}
	s.syncer.SetBlocked(ids)
}

func (s *shell) printMatch(m feed.Message, ok bool) {
	if !ok {
		s.out.println("no matches")
		return
	}
	var b strings.Builder
	for _, seg := range feed.Highlight(m.Text, s.syncer.Query()) {
		if seg.Match {
			b.WriteString("[" + seg.Text + "]")
		} else {
			b.WriteString(seg.Text)
		}
	}
	s.out.printf("match %d/%d: %s: %s\n", s.syncer.Cursor()+1, len(s.syncer.Filtered()), m.AuthorName, b.String())
}

func (s *shell) printErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.out.printf("error: %v\n", err)
}

// console serializes output from the shell and the view.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) println(args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, args...)
}

// terminalView prints the room whenever its snapshot changes.
type terminalView struct {
	out *console
}

func (v *terminalView) Render(room feed.Room, messages []feed.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "---- %s (%d) ----\n", room, len(messages))
	for _, m := range messages {
		b.WriteString(formatMessage(m))
		b.WriteByte('\n')
	}
	v.out.printf("%s", b.String())
}

func (v *terminalView) ScrollToLatest() {}

func (v *terminalView) RoomNotFound(room feed.Room) {
	v.out.printf("room %s not found, showing the default room\n", room)
}

func formatMessage(m feed.Message) string {
	ts := m.CreatedAt.Local().Format(time.Kitchen)
	name := m.AuthorName
	if name == "" {
		name = feed.AnonymousName
	}
	switch {
	case m.HasGIF():
		return fmt.Sprintf("[%s] %s: <gif %s>", ts, name, m.GifURL)
	case m.HasImage():
		return fmt.Sprintf("[%s] %s: <image %s>", ts, name, m.ImageURL)
	default:
		return fmt.Sprintf("[%s] %s: %s", ts, name, m.Text)
	}
}
