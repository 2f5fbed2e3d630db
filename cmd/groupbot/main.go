package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupbot/internal/app"
	"groupbot/internal/config"
	"groupbot/internal/transport"
)

func main() {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml (empty: environment only)")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Println("fatal env:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent, err := app.NewAgent(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := agent.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-agent.Done():
		reason = app.StopFatalError
		if errors.Is(agent.Err(), transport.ErrLoggedOut) {
			reason = app.StopLoggedOut
		}
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = agent.Stop(stopCtx, reason)

	if reason != app.StopSignal {
		if err := agent.Err(); err != nil {
			fmt.Println("exit:", err)
		}
		os.Exit(1)
	}
}
