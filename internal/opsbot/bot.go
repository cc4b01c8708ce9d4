// Package opsbot is a small owner-only Telegram command bot for checking on
// the relay: /status, /ping, /recent, /jobs.
package opsbot

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	tele "gopkg.in/telebot.v4"

	"inquiryrelay/internal/relay"
	"inquiryrelay/internal/schedule"
	"inquiryrelay/internal/storage"
	logx "inquiryrelay/pkg/logx"
	"inquiryrelay/pkg/tgtext"
)

type Config struct {
	Token       string
	OwnerIDs    []int64
	PollTimeout time.Duration
	Location    *time.Location
}

// Relay is the part of the relay client the bot reports on.
type Relay interface {
	Health(ctx context.Context) relay.Health
	Ping(ctx context.Context) error
}

// Deps are optional except Relay.
type Deps struct {
	Relay Relay
	Store storage.Store
	Jobs  func() []schedule.EntryInfo
}

type command struct {
	name string
	desc string
}

var commands = []command{
	{"status", "relay health and 24h outcomes"},
	{"ping", "send a connection test to the inquiry chat"},
	{"recent", "last deliveries, /recent 20 for more"},
	{"jobs", "scheduled jobs"},
	{"help", "this list"},
}

const (
	defaultRecent = 10
	maxRecent     = 50
	cmdTimeout    = 30 * time.Second
)

type Bot struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	bot *tele.Bot

	// Concurrent /ping commands share one connection test.
	pings singleflight.Group

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, deps Deps, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("ops bot token is empty")
	}
	if len(cfg.OwnerIDs) == 0 {
		return nil, errors.New("ops bot needs at least one owner")
	}
	b := newBot(cfg, deps, log)
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			b.log.Warn("ops bot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	b.bot = tb
	return b, nil
}

func newBot(cfg Config, deps Deps, log logx.Logger) *Bot {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{cfg: cfg, deps: deps, log: log, now: time.Now}
}

func (b *Bot) isOwner(id int64) bool { return slices.Contains(b.cfg.OwnerIDs, id) }

// respond handles one text message. ok is false when the bot stays silent:
// non-owners, non-commands and unknown commands.
func (b *Bot) respond(ctx context.Context, fromID int64, text string) (reply string, ok bool) {
	name, args := parseCommand(text)
	if name == "" {
		return "", false
	}
	if !b.isOwner(fromID) {
		b.log.Debug("ops command from non-owner ignored", logx.Int64("from", fromID), logx.String("cmd", name))
		return "", false
	}

	switch name {
	case "status", "start":
		h := b.deps.Relay.Health(ctx)
		var counts map[string]int
		if b.deps.Store != nil {
			c, err := b.deps.Store.CountOutcomes(ctx, b.now().Add(-24*time.Hour))
			if err != nil {
				b.log.Warn("count outcomes failed", logx.Err(err))
			} else {
				counts = c
			}
		}
		return renderStatus(h, counts, b.now()), true

	case "ping":
		_, err, _ := b.pings.Do("ping", func() (any, error) {
			return nil, b.deps.Relay.Ping(ctx)
		})
		if err != nil {
			return "Connection test failed: " + escErr(err), true
		}
		return "Connection test sent.", true

	case "recent":
		if b.deps.Store == nil {
			return "Delivery log is disabled.", true
		}
		n := defaultRecent
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = min(v, maxRecent)
			}
		}
		recs, err := b.deps.Store.RecentDeliveries(ctx, n)
		if err != nil {
			return "Could not read delivery log: " + escErr(err), true
		}
		return renderRecent(recs, b.cfg.Location), true

	case "jobs":
		var entries []schedule.EntryInfo
		if b.deps.Jobs != nil {
			entries = b.deps.Jobs()
		}
		return renderJobs(entries, b.cfg.Location), true

	case "help":
		return renderHelp(), true
	}
	return "", false
}

func escErr(err error) string {
	msg := err.Error()
	var re *relay.Error
	if errors.As(err, &re) {
		msg = re.Detail()
	}
	return tgtext.Esc(mode, tgtext.TruncRunes(msg, 300)).String()
}

// parseCommand splits "/recent@mybot 5" into ("recent", ["5"]).
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

// Start registers handlers and begins long polling.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return nil
	}
	b.running = true
	rctx, cancel := context.WithCancel(ctx)
	b.runCancel = cancel
	b.runWG.Add(1)
	b.runMu.Unlock()

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		cctx, cancel := context.WithTimeout(rctx, cmdTimeout)
		defer cancel()
		reply, ok := b.respond(cctx, sender.ID, c.Text())
		if !ok {
			return nil
		}
		return c.Send(reply, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	})

	menu := make([]tele.Command, 0, len(commands))
	for _, c := range commands {
		menu = append(menu, tele.Command{Text: c.name, Description: c.desc})
	}
	if err := b.bot.SetCommands(menu); err != nil {
		b.log.Warn("ops bot menu update failed", logx.Err(err))
	}

	go func() {
		defer b.runWG.Done()
		go func() {
			<-rctx.Done()
			b.bot.Stop()
		}()
		b.log.Info("ops bot polling started", logx.Int("owners", len(b.cfg.OwnerIDs)))
		b.bot.Start()
	}()
	return nil
}

// Stop ends polling. A pending getUpdates long poll is given a short grace
// window and then abandoned.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	cancel := b.runCancel
	b.runCancel = nil
	wasRunning := b.running
	b.running = false
	b.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		b.log.Info("ops bot polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		b.log.Warn("ops bot stop grace elapsed; continuing shutdown")
		return nil
	}
}
