package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kuandriy/mblearn/internal/experiment"
	"github.com/kuandriy/mblearn/internal/server"
)

var (
	servePort     int
	serveMaxConn  int
	serveProtocol string
	serveConfig   string
	servePidFile  string
)

// writePidFile records the live PID so a supervisor can signal the server.
func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

var serveCmd = &cobra.Command{
	Use:   "serve [training-file]",
	Short: "Serve one or more trained bases over TCP or HTTP",
	Long: `With a training file, serves that single base. With --config, the
file's port/maxconn/protocol settings apply and every other key = options
line declares one pre-loaded base.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		if err := writePidFile(servePidFile); err != nil {
			return fmt.Errorf("unable to create pidfile %s: %w", servePidFile, err)
		}

		if serveConfig != "" {
			cfg, err := server.LoadConfig(serveConfig)
			if err != nil {
				return err
			}
			srv := server.New(cfg, log)
			if err := srv.TrainFromConfig(); err != nil {
				return err
			}
			return srv.ListenAndServe()
		}

		if len(args) == 0 {
			return fmt.Errorf("either a training file or --config is required")
		}
		opts, err := buildOptions(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			opts.Port = servePort
		}
		if opts.Port <= 0 {
			return fmt.Errorf("a port (-S) is required to serve")
		}
		if cmd.Flags().Changed("max-conn") {
			opts.MaxConn = serveMaxConn
		}
		exp := experiment.New(opts, log)
		if err := exp.Learn(args[0]); err != nil {
			return err
		}
		cfg := &server.Config{
			Port:     opts.Port,
			MaxConn:  opts.MaxConn,
			Protocol: serveProtocol,
		}
		srv := server.New(cfg, log)
		srv.AddExperiment("", exp)
		return srv.ListenAndServe()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "S", 0, "TCP port to listen on")
	serveCmd.Flags().IntVarP(&serveMaxConn, "max-conn", "C", 25, "maximum concurrent sessions")
	serveCmd.Flags().StringVar(&serveProtocol, "protocol", "tcp", "wire protocol: tcp or http")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "server configuration file")
	serveCmd.Flags().StringVar(&servePidFile, "pidfile", "", "write the server PID to this file")
	rootCmd.AddCommand(serveCmd)
}
