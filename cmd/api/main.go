package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yichenzhou/coderoom/backend/internal/config"
	"github.com/yichenzhou/coderoom/backend/internal/handler"
	"github.com/yichenzhou/coderoom/backend/internal/service/broadcast"
	execservice "github.com/yichenzhou/coderoom/backend/internal/service/exec"
	roomservice "github.com/yichenzhou/coderoom/backend/internal/service/room"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	bcast := broadcast.New()
	rooms := roomservice.NewService(bcast, cfg.Chat.HistoryLimit)

	engine := execservice.NewEngine(execservice.Config{
		Command:    cfg.Exec.Command,
		Args:       cfg.Exec.Args,
		FileSuffix: cfg.Exec.FileSuffix,
		Timeout:    cfg.Exec.Timeout,
		UsePTY:     cfg.Exec.UsePTY,
	}, rooms, bcast)
	defer engine.Shutdown(5 * time.Second)

	router := handler.NewRouter(rooms, engine, bcast)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("CodeRoom backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
