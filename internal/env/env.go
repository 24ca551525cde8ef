// Package env defines shared program state.
package env

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/config"
	"github.com/metcalfc/folio/internal/library"
	"github.com/metcalfc/folio/internal/state"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg     *config.Config
	Log     *zap.Logger
	Store   *state.StateStore
	Library *library.Library

	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, &LocalEnv{start: time.Now()})
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// OpenLibrary loads the reading state and the catalog described by the
// configuration.
func (e *LocalEnv) OpenLibrary() error {
	store, err := state.NewStateStore(e.Cfg.Library.State(), e.Log)
	if err != nil {
		return err
	}
	css, err := e.Cfg.Reader.LoadStylesheet()
	if err != nil {
		e.Log.Warn("Stylesheet ignored", zap.Error(err))
	}
	lib, err := library.New(store, library.Options{
		StorageDir:       e.Cfg.Library.Storage(),
		WorkDir:          e.Cfg.Library.WorkDir,
		ColumnGap:        e.Cfg.Reader.ColumnGap,
		Stylesheet:       css,
		SaveOnPageChange: e.Cfg.Reader.SaveOnPageChange,
		DefaultTheme:     e.Cfg.Reader.DefaultTheme(),
	}, e.Log)
	if err != nil {
		return err
	}
	e.Store, e.Library = store, lib
	return nil
}

// CloseLibrary closes reading sessions left open.
func (e *LocalEnv) CloseLibrary() error {
	if e.Library == nil {
		return nil
	}
	return e.Library.Close()
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
