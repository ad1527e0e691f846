package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/internal/env"
	"github.com/luma/lantern/protocol"
)

var (
	queryRedis    redisFlags
	queryPriority string
	queryTimeout  time.Duration
)

func init() {
	flags := QueryCmd.Flags()

	queryRedis.register(flags)
	flags.StringVar(&queryPriority, "priority", "state", "The priority to queue the query at")
	flags.DurationVar(&queryTimeout, "timeout", 10*time.Second, "How long to wait for the reply, connecting included")
}

var QueryCmd = &cobra.Command{
	Use:   "query COMMAND [ARG...]",
	Short: "Send a single query and print the reply",
	Long: `Send a single query and print the reply the way redis-cli does

Usage
	lantern query SET greeting hello
	lantern query --priority heartbeat PING

`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := env.LoadConfig(context.Background())
		if err != nil {
			return err
		}
		queryRedis.apply(cmd.Flags(), conf)

		p, err := client.ParsePriority(queryPriority)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync()

		options := clientOptions(conf)
		options.Log = log.Named("redis")

		conn := client.New(options)
		defer conn.Close()
		conn.Start()

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		q := protocol.NewQuery(protocol.Command(args[0]), args[1:]...)

		reply, err := conn.GetResultOfQuery(ctx, q, p)
		if err != nil {
			return fmt.Errorf("%s: %w", endpoint(conf), err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), reply.String())

		return nil
	},
}
