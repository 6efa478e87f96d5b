package app

import (
	"context"
	"errors"
	"fmt"
	"phantom_chat/internal/cryptographic/encryption"
	"phantom_chat/internal/model"
	"phantom_chat/internal/protocol/exchange"
	"phantom_chat/internal/service/client"
	"phantom_chat/internal/utils/log"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		client  *client.Client
		session *client.Session

		mu        sync.Mutex
		remaining time.Duration
		secured   bool
	}
)

func NewApp(c *client.Client) *App {
	return &App{
		app:    tview.NewApplication(),
		client: c,
	}
}

// Run joins roomID, or creates a room living ttl when roomID is empty, and
// blocks in the terminal UI until the room is gone or the user quits.
func (c *App) Run(ctx context.Context, roomID string, ttl time.Duration) error {
	if roomID == "" {
		created, err := c.client.CreateRoom(ctx, ttl)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		roomID = created.ID
		fmt.Printf("Room %s created, share this id with your peer.\n", roomID)
	}

	room, err := c.client.Join(ctx, roomID, "")
	switch {
	case errors.Is(err, model.ErrRoomFull):
		return fmt.Errorf("room %s already has two participants", roomID)
	case errors.Is(err, model.ErrRoomNotFound):
		return fmt.Errorf("room %s does not exist or has expired", roomID)
	case err != nil:
		return err
	}

	session, err := client.NewSession(room)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		session.Close()
		return err
	}
	c.session = session
	defer session.Close()

	if remaining, err := room.TTL(ctx); err == nil {
		c.setRemaining(remaining)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.buildUI()
	c.showHistory(ctx)
	go c.listen(runCtx)
	go c.countdown(runCtx)
	go c.watchKey(runCtx)

	return c.app.SetRoot(c.layout(), true).SetFocus(c.input).Run()
}

func (c *App) Stop() {
	c.app.Stop()
}

func (c *App) buildUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true)
	c.updateTitle()

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" /image <path>  /destroy  /quit ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if text == "" {
			return
		}
		c.input.SetText("")
		go c.handleLine(text)
	})
}

func (c *App) layout() tview.Primitive {
	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)
}

func (c *App) handleLine(line string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, arg := parseCommand(line)
	switch cmd {
	case cmdMessage:
		if _, err := c.session.Send(ctx, arg); err != nil {
			c.reportSendError(err)
		}

	case cmdImage:
		uri, meta, err := imageDataURI(arg)
		if err != nil {
			c.notice("[red]cannot send image: %v[-]", err)
			return
		}
		if _, err := c.session.SendImage(ctx, uri, meta); err != nil {
			c.reportSendError(err)
		}

	case cmdDestroy:
		if err := c.session.Destroy(ctx); err != nil {
			log.Error("destroy room failed", zap.Error(err))
			c.notice("[red]destroy failed: %v[-]", err)
		}

	case cmdQuit:
		c.Stop()

	default:
		c.notice("[red]unknown command /%s[-]", arg)
	}
}

func (c *App) reportSendError(err error) {
	if errors.Is(err, exchange.ErrNotEstablished) {
		c.notice("[yellow]waiting for your peer, nothing was sent[-]")
		return
	}
	log.Error("send message failed", zap.Error(err))
	c.notice("[red]send failed: %v[-]", err)
}

func (c *App) notice(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) showHistory(ctx context.Context) {
	entries, err := c.session.History(ctx)
	if err != nil {
		log.Warn("load history failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		fmt.Fprintln(c.chatbox, render(e))
	}
}

func (c *App) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.session.Incoming():
			line := render(e)
			c.app.QueueUpdateDraw(func() {
				fmt.Fprintln(c.chatbox, line)
				c.chatbox.ScrollToEnd()
			})
		case <-c.session.Destroyed():
			reason := c.session.Reason()
			c.notice("[red]room destroyed (%s), all messages and keys are gone[-]", reason)
			time.AfterFunc(2*time.Second, c.Stop)
			return
		}
	}
}

func render(e client.Entry) string {
	who := "[green]Peer:[-]"
	if e.Message.Own {
		who = "[yellow]You:[-]"
	}
	at := e.Message.Time().Format("15:04")

	switch {
	case errors.Is(e.Err, encryption.ErrAuthenticationFailure):
		return fmt.Sprintf("%s %s [red]<corrupted message>[-]", at, who)
	case e.Err != nil:
		return fmt.Sprintf("%s %s [red]<unreadable: %v>[-]", at, who, e.Err)
	case e.Message.Type == model.MessageImage:
		meta := e.Message.Meta
		if meta == nil {
			meta = &model.MessageMeta{}
		}
		return fmt.Sprintf("%s %s [blue]<image %s %dx%d, %d bytes>[-]", at, who, meta.MimeType, meta.Width, meta.Height, len(e.Plaintext))
	}
	return fmt.Sprintf("%s %s %s", at, who, tview.Escape(string(e.Plaintext)))
}

// countdown ticks locally and resyncs with the relay every few seconds.
func (c *App) countdown(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if i%10 == 0 {
			if remaining, err := c.session.Room().TTL(ctx); err == nil {
				c.setRemaining(remaining)
			}
		} else {
			c.mu.Lock()
			c.remaining -= time.Second
			c.mu.Unlock()
		}
		c.app.QueueUpdateDraw(c.updateTitle)
	}
}

func (c *App) watchKey(ctx context.Context) {
	if err := c.session.WaitEstablished(ctx); err != nil {
		if ctx.Err() == nil {
			c.notice("[red]key exchange failed: %v[-]", err)
		}
		return
	}
	c.mu.Lock()
	c.secured = true
	c.mu.Unlock()
	c.notice("[green]end-to-end encrypted session established[-]")
	c.app.QueueUpdateDraw(c.updateTitle)
}

func (c *App) setRemaining(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = d
}

func (c *App) updateTitle() {
	c.mu.Lock()
	remaining, secured := c.remaining, c.secured
	c.mu.Unlock()

	status := "waiting for peer"
	if secured {
		status = "secured"
	}
	id := ""
	if c.session != nil {
		id = c.session.Room().ID
	}
	c.chatbox.SetTitle(fmt.Sprintf(" Room %s | %s left | %s ", id, formatRemaining(remaining), status))
}
