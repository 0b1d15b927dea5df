package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/infra"
	"server/internal/providers/image"
	"server/internal/session"
	"server/internal/storage"
)

// App is the handler container: one editor, one session registry, optional
// asset dump. All handlers hang off it.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Sessions *session.Store
	Editor   image.Editor
	Assets   *storage.FileStore
}

func NewApp(cfg *infra.Config, logger infra.Logger, sessions *session.Store, editor image.Editor, assets *storage.FileStore) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Editor:   editor,
		Assets:   assets,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
