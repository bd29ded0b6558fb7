package kv

import (
	"github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value store operations",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(putECmd)
	KeyValueCommands.AddCommand(casCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(cadCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)

	getCmd.Flags().Bool("stale", false, util.WrapString("Read the local state of the node, which may lag behind the leader"))
	casCmd.Flags().Duration("ttl", 0, util.WrapString("Time to live of the key (0 = never expires)"))
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(*config, t, s)
	return err
}
