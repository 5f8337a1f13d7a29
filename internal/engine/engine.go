package engine

import (
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"reviewline/internal/config"
	"reviewline/internal/content"
	"reviewline/internal/events"
	"reviewline/internal/notify"
	"reviewline/internal/repo"
)

// Engine coordinates leases, decisions and their side effects. All shared
// state lives in the database; an Engine value is safe to copy and to use from
// many goroutines.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Notifier notify.Notifier
	Content  content.Store
	Logger   *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Notifier: notify.Nop{},
		Content:  content.Nop{},
		Logger:   zap.NewNop(),
		Now:      time.Now,
	}
}

var errNoConfig = errors.New("config not loaded")

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) audit() events.Writer {
	return events.Writer{Now: e.now}
}

func (e Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) notifier() notify.Notifier {
	if e.Notifier == nil {
		return notify.Nop{}
	}
	return e.Notifier
}

func (e Engine) content() content.Store {
	if e.Content == nil {
		return content.Nop{}
	}
	return e.Content
}
