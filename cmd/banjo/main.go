package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/TheSmallBoat/banjo/banjolib"
	"github.com/TheSmallBoat/banjo/wstransport"
)

var (
	cfgPath string
	cfg     Config
	logger  zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "banjo",
		Short:         "Reliable named-message framing over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cfgPath)
			if err != nil {
				return err
			}
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("bad log level '%s': %w", cfg.LogLevel, err)
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to a TOML config file")

	root.AddCommand(serveCommand(), sendCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server that acks and echoes every message.",
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if !changed["addr"] {
				addr = cfg.Addr
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}

			srv := &wstransport.Server{
				MaxPayloadBytes: cfg.MaxPayload,
				Logger:          &logger,
				Handler: banjolib.HandlerFunc(func(ctx *banjolib.Context) error {
					logger.Info().
						Str("name", ctx.Name()).
						Uint64("id", ctx.MessageID()).
						Int("values", len(ctx.Values())).
						Msg("message")
					_, err := ctx.Conn().SendNoAck(ctx.Name(), ctx.Values()...)
					return err
				}),
				ErrorHandler: banjolib.ErrorHandlerFunc(func(conn *banjolib.Conn, err error) {
					logger.Warn().Err(err).Msg("connection error")
				}),
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				logger.Info().Msg("shutting down")
				srv.Shutdown()
				_ = ln.Close()
			}()

			logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
			return srv.Serve(ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (host:port)")

	return cmd
}

func sendCommand() *cobra.Command {
	var url, name string

	cmd := &cobra.Command{
		Use:   "send [values...]",
		Short: "Send one message and wait for the peer's ack.",
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if !changed["url"] {
				url = cfg.URL
			}

			client := &wstransport.Client{
				URL:             url,
				MaxPayloadBytes: cfg.MaxPayload,
				Logger:          &logger,
			}
			defer client.Shutdown()

			conn, err := client.Get()
			if err != nil {
				return err
			}

			values := make([]banjolib.Value, 0, len(args))
			for _, arg := range args {
				values = append(values, banjolib.String(arg))
			}

			pending, err := conn.Send(name, values...)
			if err != nil {
				return err
			}
			if err := pending.Wait(); err != nil {
				return err
			}

			logger.Info().Uint64("id", pending.ID()).Str("name", name).Msg("acknowledged")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "server WebSocket URL")
	cmd.Flags().StringVar(&name, "name", "message", "message name")

	return cmd
}
