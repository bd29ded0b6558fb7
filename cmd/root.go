package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMeta/cmd/cluster"
	"github.com/ValentinKolb/dMeta/cmd/kv"
	"github.com/ValentinKolb/dMeta/cmd/lock"
	"github.com/ValentinKolb/dMeta/cmd/serve"
	"github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmeta",
		Short: "replicated metadata store",
		Long: fmt.Sprintf(`dMeta (v%s)

A small replicated key-value store for cluster metadata, written in Go.
Every write is replicated with RAFT consensus, every read is linearizable
unless a stale read is requested.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMeta",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMeta v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(cluster.ClusterCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
