package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/notify"
	"github.com/MagloireKITIO/findam-rencontre/internal/server"
	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
	"github.com/MagloireKITIO/findam-rencontre/internal/ws"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	cfg := server.EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	dbCfg := storage.Config{}
	if err := env.Parse(&dbCfg); err != nil {
		sugar.Fatalf("Cannot parse db env config: %v", err)
	}

	store, err := storage.NewStore(context.Background(), sugar, dbCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	hub := ws.NewHub(sugar)
	auth := server.NewTokenAuthenticator(sugar, []byte(cfg.JWTSecret), store)

	notifier := notify.NewService(
		sugar,
		store,
		hub,
		notify.LogEmailSender{Logger: sugar},
		notify.LogPushSender{Logger: sugar},
	)

	chat := ws.NewChatHandler(sugar, hub, store, auth)
	notifications := ws.NewNotificationHandler(sugar, hub, store, auth)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg),
		server.ReadTimeout(5 * time.Second),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, chat, notifications, auth, notifier, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
