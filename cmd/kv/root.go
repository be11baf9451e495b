package kv

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/sablekv/sable/cmd/util"
	"github.com/sablekv/sable/rpc/client"
)

var (
	// rpcClient is shared by all kv subcommands; connected in PersistentPreRunE
	rpcClient *client.Client

	KeyValueCommands = &cobra.Command{
		Use:   "kv",
		Short: "Interact with a running sable server",
	}
)

func init() {
	KeyValueCommands.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// connection flags live on the group, subcommand flags on cmd
		if err := viper.BindPFlags(KeyValueCommands.PersistentFlags()); err != nil {
			return err
		}
		if err := cmdUtil.BindCommandFlags(cmd); err != nil {
			return err
		}
		c, err := client.Dial(cmdUtil.GetClientConfig())
		if err != nil {
			return err
		}
		rpcClient = c
		return nil
	}
	KeyValueCommands.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if rpcClient != nil {
			rpcClient.Close()
		}
	}

	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupClientFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(
		getCmd, setCmd, delCmd, keysCmd,
		zaddCmd, zremCmd, zscoreCmd, zqueryCmd, zqueryrCmd, zcountCmd, zrankCmd,
		pexpireCmd, pttlCmd,
		benchCmd,
	)
}
