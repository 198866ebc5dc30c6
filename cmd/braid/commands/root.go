package commands

import (
	"github.com/spf13/cobra"

	"github.com/braidnetworks/braid/src/config"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for Braid
var RootCmd = &cobra.Command{
	Use:              "braid",
	Short:            "braid gossip node",
	TraverseChildren: true,
}
