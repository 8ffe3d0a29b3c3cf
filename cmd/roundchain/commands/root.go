package commands

import (
	"github.com/mosaicnetworks/roundchain/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for roundchain
var RootCmd = &cobra.Command{
	Use:              "roundchain",
	Short:            "roundchain consensus",
	TraverseChildren: true,
}
