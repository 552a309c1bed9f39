package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"transcription-project/internal/bridge"
	"transcription-project/internal/config"
	"transcription-project/internal/diagnostics"
	"transcription-project/internal/domain"
	"transcription-project/internal/loader"
	"transcription-project/internal/progress"
	"transcription-project/internal/session"
	"transcription-project/internal/view"
)

// loadEventChannel is the runtime event name the frontend listens on.
const loadEventChannel = "load:event"

// eventHistorySize bounds the replayable load event buffer.
const eventHistorySize = 1000

var projectDialogFilter = []wailsruntime.FileFilter{
	{DisplayName: "Transcription projects (*.transcript, *.json)", Pattern: "*.transcript;*.json"},
	{DisplayName: "All files", Pattern: "*"},
}

// App carries the desktop shell's state: persisted settings, the bridge to
// the project host, the UI load session, and the Wails runtime context
// once the webview is up.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Bridge      *bridge.Bridge
	Session     *session.Store
	Diagnostics domain.DiagnosticReport

	assets       fs.FS
	checker      *diagnostics.Checker
	settingsPath string

	mu           sync.Mutex
	runtimeCtx   context.Context
	watchdogStop chan struct{}
}

// New constructs the application with settings loaded from disk.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets constructs the application serving the given embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	settingsPath := config.DefaultSettingsPath()
	store := config.NewJSONStore(settingsPath)

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	ensureProjectsDir(settings.ProjectsDir)

	checker := diagnostics.NewChecker()

	a := &App{
		Settings:     settings,
		Store:        store,
		Session:      session.NewStore(),
		Diagnostics:  checker.Run(settings, settingsPath),
		assets:       assets,
		checker:      checker,
		settingsPath: settingsPath,
	}
	a.Bridge = bridge.NewBridge(progress.NewBus(eventHistorySize), a.forwardEvent)
	if err := a.Bridge.Connect(newProjectHost()); err != nil {
		return nil, fmt.Errorf("connect project host: %w", err)
	}
	return a, nil
}

// newProjectHost exposes the local loader under the canonical method name
// and the aliases older frontends negotiate.
func newProjectHost() *bridge.HostTable {
	ldr := loader.NewLoader()
	load := func(ctx context.Context, req domain.LoadRequest, onProgress func(percent float64, status string)) (domain.ProjectDescriptor, error) {
		return ldr.Load(ctx, loader.Request{Path: req.Path, OnProgress: onProgress})
	}

	host := bridge.NewHostTable()
	for _, method := range bridge.CandidateMethods() {
		host.Register(method, load)
	}
	return host
}

// Run starts the Wails event loop and blocks until the window closes.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{Handler: http.FileServer(http.Dir("./frontend"))}
	if a.assets != nil {
		assetOptions = &assetserver.Options{Assets: a.assets}
	}

	return wails.Run(&options.App{
		Title:       "Transcription Project",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.Shutdown()
		},
		Bind: []interface{}{a},
	})
}

// Startup captures the runtime context, starts the stall watchdog, and
// reopens the last project when the settings ask for it.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()
	a.startWatchdog()

	if target := a.reopenTarget(); target != "" {
		a.LoadProject(target)
	}
}

// reopenTarget returns the most recent project when the settings ask for
// it to be reopened on startup.
func (a *App) reopenTarget() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.Settings.ReopenLastProject || len(a.Settings.RecentProjects) == 0 {
		return ""
	}
	return a.Settings.RecentProjects[0]
}

// Shutdown stops the watchdog, cancels in-flight loads, and releases the
// runtime context.
func (a *App) Shutdown() {
	a.mu.Lock()
	stop := a.watchdogStop
	a.watchdogStop = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	a.Bridge.Shutdown()
}

// LoadProject starts loading the project file at path and returns the
// fresh operation id. A load already in flight is superseded: the session
// switches to the new operation immediately and the old one is cancelled.
func (a *App) LoadProject(path string) string {
	operationID := a.Bridge.StartLoad(path)

	if superseded := a.Session.Begin(operationID, path); superseded != "" {
		a.Bridge.Cancel(superseded)
	}

	go a.pumpSession(operationID)
	return operationID
}

// CancelLoad requests cancellation of the given load operation. Unknown
// and already-settled operations are no-ops.
func (a *App) CancelLoad(operationID string) bool {
	return a.Bridge.Cancel(operationID)
}

// CurrentLoadState returns the session snapshot the frontend resyncs from.
func (a *App) CurrentLoadState() session.State {
	return a.Session.Snapshot()
}

// LoadEvents returns buffered load events with sequence above sinceSeq.
func (a *App) LoadEvents(sinceSeq int64) []progress.Event {
	return a.Bridge.Events(sinceSeq)
}

// LoadViewParams maps the current session state to window presentation
// parameters.
func (a *App) LoadViewParams() view.Params {
	return view.FromState(a.Session.Snapshot())
}

// pumpSession streams one operation's events into the session until the
// stream closes on its terminal event. Subscribing replays events already
// buffered, so nothing published before the pump started is missed.
func (a *App) pumpSession(operationID string) {
	sub := a.Bridge.Subscribe(operationID)
	for event := range sub.Events() {
		a.applyEvent(event)
	}
}

// applyEvent reduces one event into the session. A successful terminal
// event also records the project in the recents list.
func (a *App) applyEvent(event progress.Event) {
	if !a.Session.Apply(event) {
		return
	}
	if event.Type != progress.EventTypeResult || event.Result == nil {
		return
	}
	if event.Result.OK && event.Result.Project != nil {
		a.rememberRecent(event.Result.Project.ProjectPath)
	}
}

// forwardEvent mirrors every accepted bus event to the webview.
func (a *App) forwardEvent(event progress.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()

	if ctx != nil {
		wailsruntime.EventsEmit(ctx, loadEventChannel, event)
	}
}

// rememberRecent persists a successfully opened project at the head of
// the recents list.
func (a *App) rememberRecent(path string) {
	if path == "" {
		return
	}
	a.mu.Lock()
	a.Settings = config.PushRecent(a.Settings, path)
	updated := a.Settings
	a.mu.Unlock()

	_ = a.Store.Save(updated)
}

// startWatchdog begins the ticker that expires loads gone quiet past the
// session stall timeout.
func (a *App) startWatchdog() {
	a.mu.Lock()
	if a.watchdogStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.watchdogStop = stop
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.expireStalledLoad()
			case <-stop:
				return
			}
		}
	}()
}

// expireStalledLoad fails the active operation when no event has arrived
// within the stall timeout.
func (a *App) expireStalledLoad() {
	operationID, stalled := a.Session.Stalled()
	if !stalled {
		return
	}
	message := fmt.Sprintf("no progress for %s, giving up", a.Session.StallTimeout())
	a.Bridge.Expire(operationID, message)
}

// GetSettings returns the settings the app is currently operating with.
func (a *App) GetSettings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings
}

// SaveSettings persists the given settings, adopts them, and refreshes
// diagnostics against them.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	ensureProjectsDir(normalized.ProjectsDir)

	report := a.checker.Run(normalized, a.settingsPath)
	a.mu.Lock()
	a.Settings = normalized
	a.Diagnostics = report
	a.mu.Unlock()
	return normalized, nil
}

// RecentProjects returns the most-recent-first list of opened projects.
func (a *App) RecentProjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Settings.RecentProjects...)
}

// GetDiagnostics returns the report from the most recent diagnostics run.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings from disk and reruns every check.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(settings, a.settingsPath)
	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// PickProjectFile opens a native file dialog for choosing a project file.
func (a *App) PickProjectFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Open project",
		DefaultDirectory: a.projectsDir(),
		Filters:          projectDialogFilter,
	})
	if err != nil {
		return "", fmt.Errorf("open file dialog: %w", err)
	}
	return strings.TrimSpace(path), nil
}

// PickProjectsDirectory opens a native directory dialog for choosing where
// project files live.
func (a *App) PickProjectsDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select projects directory",
		DefaultDirectory: a.projectsDir(),
	})
	if err != nil {
		return "", fmt.Errorf("open directory dialog: %w", err)
	}
	return strings.TrimSpace(path), nil
}

// RevealProjectInFolder opens the platform file manager at the project
// file's directory, falling back to the configured projects directory when
// path is empty.
func (a *App) RevealProjectInFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.projectsDir()
	}
	if target == "" {
		return fmt.Errorf("no folder to reveal")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if !info.IsDir() {
		target = filepath.Dir(target)
	}
	return openInFileManager(target)
}

// projectsDir returns the configured projects directory.
func (a *App) projectsDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Settings.ProjectsDir
}

// runtimeContext returns the Wails context, or an error before Startup.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime not ready")
	}
	return a.runtimeCtx, nil
}

// ensureProjectsDir creates the configured projects directory on first
// run. Failures surface through diagnostics instead of blocking startup.
func ensureProjectsDir(dir string) {
	if strings.TrimSpace(dir) == "" {
		return
	}
	_ = os.MkdirAll(dir, 0o755)
}

// normalizeSettings trims user-entered paths and fills defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.ProjectsDir = strings.TrimSpace(settings.ProjectsDir)
	for i, p := range settings.RecentProjects {
		settings.RecentProjects[i] = strings.TrimSpace(p)
	}
	return config.Normalize(settings)
}

// openInFileManager reveals the given directory in the platform file
// manager.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open file manager: %w", err)
	}
	return nil
}
