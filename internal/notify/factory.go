package notify

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reviewline/internal/config"
)

// New builds the notifier chain named by cfg.Driver. The returned close func
// releases any connections the drivers opened.
func New(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, func() error, error) {
	var chain Multi
	var closers []func() error
	for _, d := range cfg.NotifyDrivers() {
		switch d {
		case "log":
			chain = append(chain, Log{Logger: logger})
		case "smtp":
			chain = append(chain, SMTPFromConfig(cfg))
		case "redis":
			r, closeRedis := RedisFromConfig(cfg)
			closers = append(closers, closeRedis)
			chain = append(chain, r)
		default:
			return nil, nil, fmt.Errorf("unknown notify driver %q", d)
		}
	}
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	switch len(chain) {
	case 0:
		return Nop{}, closeAll, nil
	case 1:
		return chain[0], closeAll, nil
	}
	return chain, closeAll, nil
}

func SMTPFromConfig(cfg config.NotifyConfig) *SMTP {
	return NewSMTP(SMTPConfig{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		User:          cfg.SMTP.User,
		Password:      cfg.SMTP.Password,
		From:          cfg.From,
		SkipTLSVerify: cfg.SMTP.SkipTLSVerify,
	})
}

// RedisFromConfig opens a client for the outbox list named in cfg.
func RedisFromConfig(cfg config.NotifyConfig) (*Redis, func() error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewRedis(client, cfg.Redis.Key), client.Close
}
