package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"aura/internal/bootstrap"
	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/ports"
	"aura/internal/usecase"
)

const (
	eventSession         = "aura:session"
	eventTranscript      = "aura:transcript"
	eventError           = "aura:error"
	eventAnalysisLoading = "aura:analysis-loading"
	eventAnalysis        = "aura:analysis"
	eventAnalysisError   = "aura:analysis-error"
)

const shutdownTimeout = 5 * time.Second

// App is the Wails application root.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

// boot assembles the backend before the window exists so the asset server
// can serve the observer router.
func (a *App) boot(build func(bootstrap.Options) (*bootstrap.Services, error)) {
	services, err := build(bootstrap.Options{
		Clipboard: &wailsClipboard{app: a},
		Sinks:     []ports.EventSink{a},
	})
	if err != nil {
		a.bootErr = err
		return
	}
	a.services = services
}

// handler serves the window's index page and the observer API, or reports
// the boot failure.
func (a *App) handler() http.Handler {
	if a.services == nil {
		return withIndex(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			msg := "application is not initialized"
			if a.bootErr != nil {
				msg = a.bootErr.Error()
			}
			http.Error(w, msg, http.StatusServiceUnavailable)
		}))
	}
	return withIndex(a.services.Router)
}

const indexPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Aura</title></head>
<body>
<h1>Aura</h1>
<pre id="state">loading...</pre>
<script>
fetch("/api/state")
  .then((r) => r.text())
  .then((t) => { document.getElementById("state").textContent = t; })
  .catch((e) => { document.getElementById("state").textContent = String(e); });
</script>
</body>
</html>
`

func withIndex(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && (r.URL.Path == "/" || r.URL.Path == "/index.html") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(indexPage))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if a.bootErr != nil {
		runtime.EventsEmit(ctx, eventError, map[string]string{
			"kind":    "startup",
			"message": "Startup failed",
			"detail":  a.bootErr.Error(),
		})
		return
	}

	if srv := a.services.Server; srv != nil {
		addr, err := srv.Start()
		if err != nil {
			a.services.Logger.Error("Observer server failed to start", logger.Error(err))
		} else {
			a.services.Logger.Info("Observer server listening", logger.String("addr", addr))
		}
	}
	a.SessionStateChanged(a.services.Controller.Snapshot())
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.services.Shutdown(ctx); err != nil {
		a.services.Logger.Warn("Shutdown finished with errors", logger.Error(err))
	}
}

// StartSession opens the microphone and the transcription stream.
func (a *App) StartSession() (domain.SessionSnapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionSnapshot{}, err
	}
	if err := a.services.Controller.StartSession(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrSessionCancelled) {
			return a.services.Controller.Snapshot(), nil
		}
		return a.services.Controller.Snapshot(), err
	}
	return a.services.Controller.Snapshot(), nil
}

// StopSession ends the current session. Calling it while idle is a no-op.
func (a *App) StopSession() (domain.SessionSnapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionSnapshot{}, err
	}
	err := a.services.Controller.StopSession(a.ctx)
	return a.services.Controller.Snapshot(), err
}

// DismissError clears the error banner.
func (a *App) DismissError() {
	if a.requireReady() != nil {
		return
	}
	a.services.Controller.DismissError()
	a.services.Display.DismissError()
}

// GetStatus returns the current session summary.
func (a *App) GetStatus() domain.SessionSnapshot {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.SessionSnapshot{Status: domain.SessionStatusFailed, LastError: a.bootErr.Error()}
		}
		return domain.SessionSnapshot{Status: domain.SessionStatusIdle}
	}
	return a.services.Controller.Snapshot()
}

// GetSnapshot returns everything the UI renders.
func (a *App) GetSnapshot() usecase.DisplaySnapshot {
	if a.services == nil {
		snap := usecase.NewDisplayState().Snapshot()
		snap.Session = a.GetStatus()
		return snap
	}
	return a.services.Display.Snapshot()
}

// CopyTranscript copies the finalized transcript to the clipboard.
func (a *App) CopyTranscript() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Controller.CopyTranscript(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":         "Deepgram",
		"model":            cfg.Deepgram.Model,
		"language":         cfg.Deepgram.Language,
		"rulesFile":        cfg.Rules.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"sampleRate":       strconv.Itoa(cfg.Audio.SampleRate),
		"blockSize":        strconv.Itoa(cfg.Audio.BlockSize),
		"analysisEndpoint": cfg.Analysis.Endpoint,
		"observerAddress":  cfg.Server.Address,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(snapshot domain.SessionSnapshot) {
	a.emit(eventSession, snapshot)
}

// TranscriptUpdated emits the latest transcript and history.
func (a *App) TranscriptUpdated(update domain.TranscriptUpdate) {
	a.emit(eventTranscript, update)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(kind domain.ErrorKind, detail string) {
	a.emit(eventError, map[string]string{
		"kind":    string(kind),
		"message": errorMessage(kind, detail),
		"detail":  detail,
	})
}

func (a *App) AnalysisLoading(loading bool) {
	a.emit(eventAnalysisLoading, map[string]bool{"loading": loading})
}

func (a *App) AnalysisCompleted(outcome domain.AnalysisOutcome) {
	a.emit(eventAnalysis, outcome)
}

func (a *App) AnalysisFailed(outcome domain.AnalysisOutcome) {
	a.emit(eventAnalysisError, outcome)
}

func (a *App) emit(event string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, event, payload)
}

func errorMessage(kind domain.ErrorKind, detail string) string {
	switch kind {
	case domain.ErrorKindDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorKindAuthenticationFailed:
		return "Deepgram rejected the API key"
	case domain.ErrorKindConnection:
		return "Transcription connection error"
	case domain.ErrorKindProtocolParse:
		return "Malformed transcription message"
	case domain.ErrorKindAnalysisRequestFailed:
		return "Analysis request failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct {
	app *App
}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	if c.app.ctx != nil {
		ctx = c.app.ctx
	}
	return runtime.ClipboardSetText(ctx, text)
}
