package cluster

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/client"
	"github.com/spf13/cobra"
)

const joinTimeout = 70 * time.Second

var (
	rpcCluster store.ICluster

	// ClusterCommands represents the cluster command group
	ClusterCommands = &cobra.Command{
		Use:               "cluster",
		Short:             "Manage the members of a cluster",
		PersistentPreRunE: setupClusterClient,
	}

	joinCmd = &cobra.Command{
		Use:   "join [node id] [address]",
		Short: "Add a node to the cluster",
		Long:  "Add a node to the cluster. The node must be running (started with an empty data directory and without peers). The command returns once the node caught up and is a voting member.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			if err := rpcCluster.Join(id, args[1]); err != nil {
				return err
			}
			fmt.Printf("node %d joined\n", id)
			return nil
		},
	}

	leaveCmd = &cobra.Command{
		Use:   "leave [node id]",
		Short: "Remove a node from the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			if err := rpcCluster.Leave(id); err != nil {
				return err
			}
			fmt.Printf("node %d removed\n", id)
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the status of a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := rpcCluster.Status()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(ClusterCommands)

	ClusterCommands.AddCommand(joinCmd)
	ClusterCommands.AddCommand(leaveCmd)
	ClusterCommands.AddCommand(statusCmd)
}

func parseNodeID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid node id %q", arg)
	}
	return id, nil
}

func setupClusterClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	// a join returns once the new node caught up
	if config.Timeout < joinTimeout {
		config.Timeout = joinTimeout
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcCluster, err = client.NewRPCCluster(*config, t, s)
	return err
}
