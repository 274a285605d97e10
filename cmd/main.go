package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/adforge-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	if err := a.Start(); err != nil {
		a.Log.Error("start failed", "error", err)
		a.Close()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(":" + a.Cfg.Port)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case err := <-errCh:
		if err != nil {
			a.Log.Error("server failed", "error", err)
			exit = 1
		}
	case s := <-sig:
		a.Log.Info("Shutting down", "signal", s.String())
	}
	a.Close()
	os.Exit(exit)
}
