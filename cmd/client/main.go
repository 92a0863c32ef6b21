package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/api"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/chat"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/config"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/draft"
	clog "github.com/Emmagit999/meme-chat-social-hub-sub001/internal/log"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/presence"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/protocol"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/rtclient"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/tabsignal"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/unread"
	"github.com/Emmagit999/meme-chat-social-hub-sub001/internal/video"

	"github.com/rs/zerolog/log"
)

const (
	draftType = "message"
	feedSize  = 5
	pruneAge  = 10 * time.Minute
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("client")
	}
}

func run(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	client := api.New(cfg.APIURL, nil)
	me, err := authenticate(ctx, client, cfg)
	if err != nil {
		return err
	}

	rt, err := rtclient.Dial(ctx, cfg.RealtimeURL, client.Token())
	if err != nil {
		return err
	}
	defer rt.Close()

	doc := newTermDoc(out, "socialhub - "+me.Username)
	sig := tabsignal.New(doc,
		tabsignal.WithMode(tabsignal.ParseMode(cfg.SignalMode)),
		tabsignal.WithBlinkInterval(time.Duration(cfg.BlinkIntervalMS)*time.Millisecond),
		tabsignal.WithLogger(clog.Component("tabsignal")),
	)
	defer sig.Close()

	agg := unread.NewAggregator()
	agg.Subscribe(sig.Update)
	poll := time.Duration(cfg.UnreadPollSecs) * time.Second
	messages := unread.NewCounter("messages", func(ctx context.Context) (int, error) {
		n, err := client.UnreadMessageCount(ctx)
		return int(n), err
	}, poll, agg.SetMessages)
	notifications := unread.NewCounter("notifications", func(ctx context.Context) (int, error) {
		n, err := client.UnreadNotificationCount(ctx)
		return int(n), err
	}, poll, agg.SetNotifications)
	go messages.Run(ctx)
	go notifications.Run(ctx)

	tracker := presence.NewTracker(protocol.PresenceRecord{UserID: me.ID, Username: me.Username, Avatar: me.Avatar}).
		WithLogger(clog.Component("presence"))
	if err := tracker.Start(ctx, rt.Channel(protocol.OnlineUsersTopic)); err != nil {
		return err
	}
	defer tracker.Stop()

	session := chat.NewSession(ctx, client, me.ID)
	defer session.Close()

	inbox := rt.Channel(protocol.UserTopic(me.ID))
	inbox.OnChange(func(change protocol.Change) {
		switch change.Table {
		case protocol.TableMessages:
			session.HandleChange(change)
			messages.Invalidate()
			printIncoming(out, me.ID, change)
		case protocol.TableNotifications:
			notifications.Invalidate()
		}
	})
	if err := inbox.Subscribe(ctx, func(s protocol.SubscribeStatus) {
		log.Debug().Str("status", string(s)).Msg("inbox subscription")
	}); err != nil {
		return err
	}

	kv, err := draft.OpenSQLiteKV(cfg.DraftDBPath)
	if err != nil {
		return err
	}
	defer kv.Close()
	drafts := draft.NewStore(kv,
		draft.WithDebounce(time.Duration(cfg.DraftDebounceMS)*time.Millisecond),
		draft.WithLogger(clog.Component("draft")),
	)
	defer drafts.Close()

	videos := video.NewManager(time.Duration(cfg.VideoSweepSecs) * time.Second)
	defer videos.Close()

	r := &repl{
		out:      out,
		client:   client,
		session:  session,
		tracker:  tracker,
		drafts:   drafts,
		videos:   videos,
		feed:     newFeed(out, feedSize),
		signaler: sig,
		messages: messages,
	}
	if d, ok := drafts.Load(draftType); ok {
		fmt.Fprintf(out, "restored draft: %s\n", d.Content)
	}
	fmt.Fprintf(out, "signed in as %s (id %d); /help for commands\n", me.Username, me.ID)
	return r.loop(ctx, in, rt.Done())
}

func authenticate(ctx context.Context, client *api.Client, cfg config.Config) (*protocol.User, error) {
	if cfg.AccessToken != "" {
		client.SetToken(cfg.AccessToken)
		return client.Me(ctx)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("set ACCESS_TOKEN or CLIENT_USERNAME and CLIENT_PASSWORD")
	}
	return client.Login(ctx, cfg.Username, cfg.Password)
}

func printIncoming(out io.Writer, self uint, change protocol.Change) {
	if change.Event != protocol.ChangeInsert {
		return
	}
	var m protocol.Message
	if err := json.Unmarshal(change.Record, &m); err != nil || m.ReceiverID != self {
		return
	}
	fmt.Fprintf(out, "[%d] %s\n", m.SenderID, m.Content)
}

type repl struct {
	out      io.Writer
	client   *api.Client
	session  *chat.Session
	tracker  *presence.Tracker
	drafts   *draft.Store
	videos   *video.Manager
	feed     *feed
	signaler *tabsignal.Signaler
	messages *unread.Counter
	peer     uint
}

func (r *repl) loop(ctx context.Context, in io.Reader, closed <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return rtclient.ErrClosed
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "":
		r.signaler.SetVisible(true)
	case "/quit":
		return true
	case "/help":
		fmt.Fprintln(r.out, "/to <id>  /online  /pending  /discard <id>  /prune  /draft <text>  /read  /play <clip>  /pause  /quit")
	case "/to":
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			fmt.Fprintln(r.out, "usage: /to <user id>")
			return false
		}
		r.peer = uint(id)
		r.session.Ledger().Clear()
		status := "offline"
		if r.tracker.IsUserOnline(r.peer) {
			status = "online"
		}
		fmt.Fprintf(r.out, "chatting with %d (%s)\n", r.peer, status)
	case "/online":
		for _, u := range r.tracker.Users() {
			fmt.Fprintf(r.out, "%d %s since %s\n", u.UserID, u.Username, u.OnlineAt.Format(time.Kitchen))
		}
	case "/pending":
		for _, m := range r.session.Ledger().Messages() {
			fmt.Fprintf(r.out, "%s %-7s %s\n", m.ID, m.Status, m.Content)
		}
	case "/discard":
		if !r.session.Discard(arg) {
			fmt.Fprintln(r.out, "no such message")
		}
	case "/prune":
		if n := r.session.Ledger().PruneFailed(time.Now().Add(-pruneAge)); n > 0 {
			fmt.Fprintf(r.out, "dropped %d stale failed messages\n", n)
		}
	case "/draft":
		r.drafts.Save(draftType, arg)
	case "/read":
		if r.peer == 0 {
			fmt.Fprintln(r.out, "pick a peer with /to first")
			return false
		}
		if _, err := r.client.MarkConversationRead(ctx, r.peer); err != nil {
			fmt.Fprintf(r.out, "mark read failed: %v\n", err)
			return false
		}
		r.messages.Invalidate()
	case "/play":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /play <clip>")
			return false
		}
		r.videos.Play(ctx, arg, r.feed.get(arg))
	case "/pause":
		r.videos.PauseAll()
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Fprintln(r.out, "unknown command; /help")
			return false
		}
		r.send(ctx, line)
	}
	return false
}

func (r *repl) send(ctx context.Context, content string) {
	if r.peer == 0 {
		fmt.Fprintln(r.out, "pick a peer with /to first")
		r.drafts.Save(draftType, content)
		return
	}
	id, err := r.session.Send(ctx, r.peer, content)
	if err != nil {
		fmt.Fprintf(r.out, "send failed (%s): %v\n", id, err)
		r.drafts.Save(draftType, content)
		return
	}
	r.drafts.Clear(draftType)
}
