package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skotchmaster/cartzy_auth/internal/config"
	"github.com/Skotchmaster/cartzy_auth/internal/db"
	"github.com/Skotchmaster/cartzy_auth/internal/hash"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	authmw "github.com/Skotchmaster/cartzy_auth/internal/middleware/auth"
	"github.com/Skotchmaster/cartzy_auth/internal/mykafka"
	"github.com/Skotchmaster/cartzy_auth/internal/notify"
	"github.com/Skotchmaster/cartzy_auth/internal/repo"
	"github.com/Skotchmaster/cartzy_auth/internal/service"
	"github.com/Skotchmaster/cartzy_auth/internal/tokens"
	httpserver "github.com/Skotchmaster/cartzy_auth/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "auth", "env", cfg.Env)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("db init error", "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb); err != nil {
		logger.Error("db migrate error", "error", err)
		os.Exit(1)
	}

	tm, err := tokens.NewManager(tokens.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		ResetTTL:      cfg.ResetTTL,
	})
	if err != nil {
		logger.Error("token manager init error", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.SMTP.Host != "" {
		smtp, err := notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			logger.Error("smtp init error", "error", err)
			os.Exit(1)
		}
		notifier = smtp
	} else {
		logger.Warn("SMTP_HOST not set, reset emails are only logged")
	}

	var events mykafka.Publisher = mykafka.Nop{}
	var producer *mykafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = mykafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Error("kafka init error", "error", err)
			os.Exit(1)
		}
		events = producer
	}

	userRepo := repo.New(gdb)
	svc := &service.AuthService{
		Repo:        userRepo,
		Hasher:      hash.New(cfg.BcryptCost),
		Tokens:      tm,
		Notifier:    notifier,
		Events:      events,
		FrontendURL: cfg.FrontendURL,
	}

	e := httpserver.NewEcho(logger)
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	httpserver.Register(e, &httpserver.Deps{
		DB: gdb,
		AuthHandler: &httpserver.AuthHTTP{
			Svc: svc,
			Cookies: httpserver.CookieConfig{
				Secure: !cfg.IsDevelopment(),
				MaxAge: tm.RefreshTTL(),
			},
		},
		UsersHandler: &httpserver.UsersHTTP{Svc: svc},
		Guard:        &authmw.Guard{Tokens: tm, Users: userRepo},
	})

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("echo start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown", "error", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka close error", "error", err)
		}
	}
	if err := db.Close(gdb); err != nil {
		logger.Error("db close error", "error", err)
	}

	logger.Info("shutdown complete")
}
