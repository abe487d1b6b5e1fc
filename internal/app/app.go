package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"habitkeeper/internal/config"
	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/event"
	"habitkeeper/internal/httpapi"
	"habitkeeper/internal/ipc"
	"habitkeeper/internal/storage"
	"habitkeeper/internal/timer"

	sqlitestore "habitkeeper/internal/storage/sqlite"
)

const recentLimit = 50

type App struct {
	cfg     *config.Config
	prefs   coordinator.Preferences
	storage storage.Storage
	bus     *event.Bus
	timer   *timer.Controller
	coord   *coordinator.Coordinator
	http    *httpapi.Server

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// UI events not yet fetched by a client
	recent   []coordinator.UIEvent
	recentMu sync.Mutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp opens the database at cfg.DatabasePath and wires every component.
func NewApp(cfg *config.Config, prefs coordinator.Preferences) (*App, error) {
	st := sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := st.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return newApp(cfg, prefs, st), nil
}

func newApp(cfg *config.Config, prefs coordinator.Preferences, st storage.Storage) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		prefs:      prefs,
		storage:    st,
		bus:        event.NewBus(),
		socketPath: cfg.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.DefaultSocketPath
	}

	a.timer = timer.New(st, st, a.bus, timer.Options{
		TickInterval: cfg.TickInterval(),
		DefaultFocus: cfg.Pomodoro.FocusDuration(),
		DefaultBreak: cfg.Pomodoro.ShortBreakDuration(),
	})
	a.coord = coordinator.New(a.timer, st, st, prefs, coordinator.Options{
		DebounceWindow: cfg.Coordinator.DebounceWindow(),
		WaitingTimeout: cfg.Coordinator.WaitingTimeout(),
		UIBuffer:       cfg.Coordinator.UIBuffer,
	})
	if cfg.HTTPAddr != "" {
		a.http = httpapi.NewServer(cfg.HTTPAddr, a)
	}
	return a
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		// Socket file exists, try to connect
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections until ctx is cancelled.
func (a *App) listenForCommands(ctx context.Context) error {
	defer log.Println("Socket command listener stopped.")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("Failed to accept connection: %v", err)
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConnection(ctx, conn)
	}
}

// handleConnection reads command, processes it, and sends response
func (a *App) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	// Intents can wait on the timer controller, leave room for its reply.
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	log.Printf("Received command: %s", cmd.Name)
	response := a.processCommand(ctx, cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// Run blocks until SIGINT/SIGTERM or a component fails.
func (a *App) Run() error {
	log.Println("Starting habitkeeper daemon...")

	if err := a.setupSocket(); err != nil {
		a.cancel()
		if cerr := a.storage.Close(); cerr != nil {
			log.Printf("Error closing storage: %v", cerr)
		}
		return fmt.Errorf("failed to set up socket: %w", err)
	}
	defer a.cleanup()
	a.handleSignals()

	if sessions, err := a.storage.ListActiveSessions(a.ctx); err != nil {
		log.Printf("Warning: Failed to list unfinished sessions: %v", err)
	} else {
		a.coord.Seed(sessions)
	}

	g, gctx := errgroup.WithContext(a.ctx)
	timerEvents, unsubscribe := a.bus.Subscribe(64)
	defer unsubscribe()
	auditEvents, unsubscribeAudit := a.bus.Subscribe(16)
	defer unsubscribeAudit()

	g.Go(func() error { return a.timer.Run(gctx) })
	g.Go(func() error { return a.coord.Run(gctx, timerEvents) })
	g.Go(func() error { return a.consumeUI(gctx) })
	g.Go(func() error { return a.consumeTelemetry(gctx) })
	g.Go(func() error { return a.recordTimerErrors(gctx, auditEvents) })
	g.Go(func() error { return a.listenForCommands(gctx) })
	if a.http != nil {
		g.Go(func() error { return a.http.Run(gctx) })
	}

	a.saveRecord(a.ctx, event.Record{Timestamp: time.Now(), Type: event.RecordTypeAppStart})
	log.Println("habitkeeper daemon running. Send commands via habit-cli or socket.")

	<-gctx.Done()
	log.Println("Shutdown signal received, waiting for components...")

	if err := a.listener.Close(); err != nil {
		log.Printf("Error closing socket listener: %v", err)
	}
	a.cancel()

	err := g.Wait()
	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()
	select {
	case <-waitChan:
		log.Println("All connection handlers finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for connection handlers to stop.")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Println("habitkeeper daemon finished.")
	return nil
}

// consumeUI keeps the latest UI events for the events command and records
// completions.
func (a *App) consumeUI(ctx context.Context) error {
	defer log.Println("UI event consumer stopped.")
	events := a.coord.UIEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			a.rememberUIEvent(e)
		}
	}
}

func (a *App) rememberUIEvent(e coordinator.UIEvent) {
	log.Printf("UI: [%s] %s %s", e.Kind, e.HabitID, e.Message)
	a.recentMu.Lock()
	a.recent = append(a.recent, e)
	if len(a.recent) > recentLimit {
		a.recent = a.recent[len(a.recent)-recentLimit:]
	}
	a.recentMu.Unlock()

	if e.Kind == coordinator.UICompleted {
		a.saveRecord(a.ctx, event.Record{
			Timestamp: e.At,
			Type:      event.RecordTypeCompleted,
			HabitID:   e.HabitID,
			Value:     float64(e.Seconds),
		})
	}
}

func (a *App) drainRecent() []coordinator.UIEvent {
	a.recentMu.Lock()
	defer a.recentMu.Unlock()
	out := a.recent
	a.recent = nil
	return out
}

func (a *App) consumeTelemetry(ctx context.Context) error {
	defer log.Println("Telemetry consumer stopped.")
	telemetry := a.coord.Telemetry()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-telemetry:
			a.saveRecord(ctx, telemetryRecord(t))
		}
	}
}

func telemetryRecord(t coordinator.Telemetry) event.Record {
	r := event.Record{
		Timestamp: t.At,
		HabitID:   t.HabitID,
		Intent:    string(t.Intent),
		Tag:       string(t.ConfirmType),
		Notes:     t.Reason,
	}
	switch t.Kind {
	case coordinator.TelemetryExecuted:
		r.Type = event.RecordTypeExecuted
	case coordinator.TelemetryConfirmed:
		r.Type = event.RecordTypeConfirmed
	case coordinator.TelemetryDisallowed:
		r.Type = event.RecordTypeDisallowed
	}
	return r
}

func (a *App) recordTimerErrors(ctx context.Context, events <-chan event.TimerEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != event.TimerError {
				continue
			}
			a.saveRecord(ctx, event.Record{
				Timestamp: ev.At,
				Type:      event.RecordTypeTimerError,
				HabitID:   ev.HabitID,
				Notes:     ev.Message,
			})
		}
	}
}

func (a *App) saveRecord(ctx context.Context, r event.Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if _, err := a.storage.SaveEvent(ctx, r); err != nil {
		log.Printf("Error saving event (Type: %s, Habit: %s): %v", r.Type, r.HabitID, err)
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")

	a.coord.Close()
	a.bus.Close()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	a.saveRecord(saveCtx, event.Record{Timestamp: time.Now(), Type: event.RecordTypeAppStop})

	if err := a.storage.Close(); err != nil {
		log.Printf("Error closing storage: %v", err)
	}

	if _, err := os.Stat(a.socketPath); err == nil {
		log.Printf("Removing socket file: %s", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
		}
	}

	log.Println("Cleanup finished.")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
