package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/cmd/gen"
	"github.com/luma/lantern/internal/env"
	"github.com/luma/lantern/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "lantern",
	Short: "Pushes status to Redis over a single prioritised connection",
	Long: `Lantern keeps one connection to a Redis server and pushes queries
through it by priority, publishing its own status as it goes.`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo().String())
	},
}

func init() {
	RootCmd.AddCommand(StartCmd, QueryCmd, VersionCmd, gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// redisFlags override the environment for the connection target
type redisFlags struct {
	host string
	port int
	path string
}

func (f *redisFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.host, "host", "a", "127.0.0.1", "The Redis host to connect to")
	flags.IntVarP(&f.port, "port", "p", 6379, "The Redis port to connect to")
	flags.StringVar(&f.path, "path", "", "The Redis unix socket to connect to, wins over host and port")
}

func (f *redisFlags) apply(flags *pflag.FlagSet, conf *env.Config) {
	if flags.Changed("host") {
		conf.RedisHost = f.host
	}
	if flags.Changed("port") {
		conf.RedisPort = f.port
	}
	if flags.Changed("path") {
		conf.RedisPath = f.path
	}
}

func clientOptions(conf *env.Config) client.Options {
	return client.Options{
		Host:              conf.RedisHost,
		Port:              conf.RedisPort,
		Path:              conf.RedisPath,
		Password:          conf.RedisPassword,
		DB:                conf.RedisDB,
		DialTimeout:       conf.RedisDialTimeout,
		ReconnectDelay:    conf.ReconnectDelay,
		MaxReconnectDelay: conf.ReconnectMaxDelay,
	}
}

func endpoint(conf *env.Config) string {
	if conf.RedisPath != "" {
		return conf.RedisPath
	}

	return fmt.Sprintf("%s:%d", conf.RedisHost, conf.RedisPort)
}

func startedAt() string {
	return time.Now().UTC().Format(time.RFC3339)
}
