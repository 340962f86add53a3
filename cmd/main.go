package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/trivia/internal/config"
	"github.com/victornm/trivia/internal/server"
)

func main() {
	var file string

	root := &cobra.Command{
		Use:          "trivia",
		Short:        "Real-time team trivia coordinator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(file)
		},
	}
	root.PersistentFlags().StringVarP(&file, "config", "c", os.Getenv("CONFIG_PATH"), "config file, defaults to $CONFIG_PATH")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP, websocket and gRPC APIs",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(file)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the postgres schema and import the questions file",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := loadConfig(file)
				if err != nil {
					return err
				}
				return server.Migrate(cmd.Context(), c)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(file string) error {
	c, err := loadConfig(file)
	if err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
	return nil
}

func loadConfig(file string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(file, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
