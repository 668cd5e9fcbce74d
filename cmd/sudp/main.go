package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Pablu23/Sudp/internal/client"
	"github.com/Pablu23/Sudp/internal/config"
	"github.com/Pablu23/Sudp/internal/server"
)

const defaultPort = 13374

var (
	cfgFile  string
	verbose  bool
	insecure bool

	listenAddress string
	listenPort    int
	noEcho        bool

	connectPort int
	noReply     bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "sudp",
	Short:         "Reliable, encrypted messaging over UDP",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept peers and log (and echo) their messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.New(func(o *server.Options) {
			o.Address = listenAddress
			o.Port = listenPort
			o.Insecure = insecure
			o.Echo = !noEcho
			o.Config = cfg
		})
		if err != nil {
			return err
		}
		return srv.Serve()
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <host>",
	Short: "Send every line of stdin as a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := client.New(func(o *client.Options) {
			o.Insecure = insecure
			o.AwaitReply = !noReply
			o.Config = cfg
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := cl.Close(); err != nil {
				log.WithError(err).Error("Could not close channel")
			}
		}()

		if err := cl.Dial(args[0], connectPort); err != nil {
			return err
		}
		return cl.Run(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log retransmissions and dropped datagrams")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip key agreement and send plaintext")

	listenCmd.Flags().StringVarP(&listenAddress, "address", "a", "0.0.0.0", "address to bind")
	listenCmd.Flags().IntVarP(&listenPort, "port", "p", defaultPort, "port to bind")
	listenCmd.Flags().BoolVar(&noEcho, "no-echo", false, "only log received messages")

	connectCmd.Flags().IntVarP(&connectPort, "port", "p", defaultPort, "server port")
	connectCmd.Flags().BoolVar(&noReply, "no-reply", false, "do not wait for an echo after each line")

	rootCmd.AddCommand(listenCmd, connectCmd)
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
