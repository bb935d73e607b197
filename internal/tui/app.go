// Package tui is a terminal client for a running chatmaild.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatmail/internal/client"
	"github.com/matheus3301/chatmail/internal/tui/keys"
	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/matheus3301/chatmail/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	pageChats  = "chats"
	pageThread = "chat"
	pageHelp   = "help"

	rpcTimeout     = 10 * time.Second
	resubscribeGap = 2 * time.Second
)

const refreshAll = model.RefreshStatus | model.RefreshChats | model.RefreshThread | model.RefreshCall

// App is the terminal UI.
type App struct {
	app    *tview.Application
	client *client.Client
	vm     *model.ViewModel
	keys   *keys.Registry
	logger *zap.Logger

	theme   *ui.Theme
	pages   *ui.Pages
	layout  *tview.Flex
	chats   *views.ChatList
	thread  *views.Thread
	help    *views.Help
	callBar *views.CallBar
	status  *views.StatusBar
	prompt  *tview.InputField
	mode    rune

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the UI over c.
func NewApp(c *client.Client, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	a := &App{
		app:     tview.NewApplication(),
		client:  c,
		vm:      model.NewViewModel(c),
		keys:    keys.NewRegistry(),
		logger:  logger.Named("tui"),
		theme:   theme,
		pages:   ui.NewPages(),
		chats:   views.NewChatList(theme),
		thread:  views.NewThread(theme),
		help:    views.NewHelp(theme),
		callBar: views.NewCallBar(theme),
		status:  views.NewStatusBar(theme),
		prompt:  tview.NewInputField(),
		ctx:     ctx,
		cancel:  cancel,
	}
	a.bindKeys()
	a.buildLayout()
	return a
}

func (a *App) bindKeys() {
	a.keys.Global(keys.Binding{Key: tcell.KeyRune, Rune: ':', Hint: ":cmd", Handler: func() { a.openPrompt(':') }})
	a.keys.Global(keys.Binding{Key: tcell.KeyRune, Rune: '?', Hint: "?:help", Handler: func() { a.pages.Push(pageHelp) }})
	a.keys.Global(keys.Binding{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: a.Stop})

	a.keys.On(pageChats, keys.Binding{Key: tcell.KeyRune, Rune: '/', Hint: "/:filter", Handler: func() { a.openPrompt('/') }})
	for n := 1; n <= 9; n++ {
		a.keys.On(pageChats, keys.Binding{Key: tcell.KeyRune, Rune: rune('0' + n), Handler: func() {
			if id := a.chats.At(n); id != 0 {
				a.openChat(id)
			}
		}})
	}

	a.keys.On(pageThread, keys.Binding{Key: tcell.KeyRune, Rune: 'i', Hint: "i:write", Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	a.keys.On(pageThread, keys.Binding{Key: tcell.KeyRune, Rune: 'c', Hint: "c:call", Handler: func() {
		a.async(func(ctx context.Context) error { return a.vm.PlaceCall(ctx, "") }, model.RefreshCall)
	}})
}

func (a *App) buildLayout() {
	a.pages.AddPage(pageChats, a.chats, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)
	a.pages.SetOnChange(func(top string) { a.status.SetHints(a.keys.Hints(top)) })
	a.pages.Reset(pageChats)

	a.chats.SetSelectedFunc(func(row, _ int) {
		if id := a.chats.At(row); id != 0 {
			a.openChat(id)
		}
	})
	a.thread.SetOnSend(func(text string) {
		a.async(func(ctx context.Context) error { return a.vm.SendText(ctx, text) }, model.RefreshThread)
	})

	a.prompt.SetFieldBackgroundColor(a.theme.Bg)
	a.prompt.SetBackgroundColor(a.theme.Bg)
	a.prompt.SetLabelColor(a.theme.Key)
	a.prompt.SetChangedFunc(func(text string) {
		if a.mode == '/' {
			a.chats.SetFilter(text)
		}
	})
	a.prompt.SetDoneFunc(a.promptDone)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.callBar, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.status, 1, 0, false)
	a.app.SetRoot(a.layout, true).SetFocus(a.chats)
	a.app.SetInputCapture(a.capture)
}

func (a *App) capture(ev *tcell.EventKey) *tcell.EventKey {
	focus := a.app.GetFocus()
	if focus == a.thread.Composer() && ev.Key() == tcell.KeyEscape {
		a.app.SetFocus(a.thread.Messages())
		return nil
	}
	if _, typing := focus.(*tview.InputField); typing {
		return ev
	}
	if ev.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if a.keys.Dispatch(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) back() {
	a.pages.Pop()
	a.focusPage()
}

func (a *App) focusPage() {
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.chats)
	}
}

func (a *App) openPrompt(mode rune) {
	a.mode = mode
	a.prompt.SetLabel(string(mode))
	a.prompt.SetText("")
	a.layout.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) promptDone(key tcell.Key) {
	text := a.prompt.GetText()
	mode := a.mode
	a.closePrompt()
	if mode == '/' {
		if key == tcell.KeyEscape {
			a.chats.SetFilter("")
		}
		return
	}
	if key != tcell.KeyEnter {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		next, err := execute(ctx, a.vm, ParseCommand(text))
		if err != nil {
			a.vm.Flash.Err(err)
		}
		a.app.QueueUpdateDraw(func() {
			switch next {
			case quit:
				a.Stop()
				return
			case showHelp:
				a.pages.Push(pageHelp)
			case showThread:
				a.pages.Reset(pageChats)
				a.pages.Push(pageThread)
			}
			a.focusPage()
			a.render(refreshAll)
		})
	}()
}

func (a *App) openChat(chatID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		if err := a.vm.OpenChat(ctx, chatID); err != nil {
			a.vm.Flash.Err(err)
		}
		a.app.QueueUpdateDraw(func() {
			a.pages.Push(pageThread)
			a.focusPage()
			a.render(model.RefreshThread)
		})
	}()
}

// async runs fn off the UI goroutine and redraws r when it returns.
func (a *App) async(fn func(ctx context.Context) error, r model.Refresh) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.logger.Debug("request failed", zap.Error(err))
			a.vm.Flash.Err(err)
		}
		a.redraw(r)
	}()
}

func (a *App) redraw(r model.Refresh) {
	a.app.QueueUpdateDraw(func() { a.render(r) })
}

// render copies view model state into the widgets. It runs on the UI
// goroutine.
func (a *App) render(r model.Refresh) {
	if r&model.RefreshStatus != 0 {
		a.status.SetStatus(a.vm.Status())
	}
	if r&model.RefreshChats != 0 {
		a.chats.Update(a.vm.Chats())
	}
	if r&model.RefreshThread != 0 {
		if id := a.vm.ActiveChat(); id != 0 {
			a.thread.Update(a.vm.ChatName(id), a.vm.Timer(), a.vm.Messages())
		}
	}
	if r&model.RefreshCall != 0 {
		if c := a.vm.Call(); c != nil {
			a.callBar.Update(c, a.vm.ChatName(c.ChatID))
		}
	}
	a.status.SetFlash(a.vm.Flash.Current())
}

// reload refetches everything, after start and after the event stream
// reconnects.
func (a *App) reload() {
	ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
	defer cancel()
	for _, load := range []func(context.Context) error{a.vm.LoadStatus, a.vm.LoadChats, a.vm.LoadThread} {
		if err := load(ctx); err != nil {
			a.vm.Flash.Err(err)
			break
		}
	}
	a.redraw(refreshAll)
}

// pump feeds event envelopes from next into vm until next fails. Each
// event's refresh set goes to redraw.
func pump(ctx context.Context, next func() (*structpb.Struct, error), vm *model.ViewModel, redraw func(model.Refresh)) error {
	for {
		env, err := next()
		if err != nil {
			return err
		}
		fields := env.AsMap()
		kind, _ := fields["kind"].(string)
		payload, _ := fields["payload"].(map[string]any)
		r, err := vm.HandleEvent(ctx, kind, payload)
		if err != nil {
			vm.Flash.Err(err)
		}
		redraw(r)
	}
}

func (a *App) watchEvents() {
	for {
		events, err := a.client.Subscribe(a.ctx, "")
		if err == nil {
			a.reload()
			err = pump(a.ctx, events.Recv, a.vm, a.redraw)
		}
		if a.ctx.Err() != nil {
			return
		}
		a.logger.Warn("event stream lost", zap.Error(err))
		a.vm.Flash.Warn("daemon unreachable, retrying")
		a.redraw(0)
		select {
		case <-time.After(resubscribeGap):
		case <-a.ctx.Done():
			return
		}
	}
}

// tick keeps the clock-driven parts current: flash expiry, status age and
// disappearing-message countdowns.
func (a *App) tick() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for n := 1; ; n++ {
		select {
		case <-t.C:
			r := model.RefreshStatus
			if n%5 == 0 && a.threadHasCountdown() {
				r |= model.RefreshThread
			}
			a.redraw(r)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) threadHasCountdown() bool {
	for _, m := range a.vm.Messages() {
		if m.ExpiresAt != 0 {
			return true
		}
	}
	return false
}

// Run blocks until the user quits.
func (a *App) Run() error {
	a.logger.Info("starting")
	go a.watchEvents()
	go a.tick()
	err := a.app.Run()
	a.cancel()
	return err
}

// Stop ends Run.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
