package roundchain

import (
	"os"

	"github.com/mosaicnetworks/roundchain/src/config"
)

// This example starts a node from the default configuration. The data
// directory must contain a peers.json listing this node; a private key is
// generated there if none exists.
func Example() {
	// Start from default configuration.
	conf := config.NewDefaultConfig()
	conf.SetDataDir("/tmp/roundchain")

	// Instantiate the engine.
	engine := NewRoundchain(conf)

	// Read in the configuration and initialise the node accordingly.
	if err := engine.Init(); err != nil {
		conf.Logger().Error("Cannot initialize roundchain:", err)
		os.Exit(1)
	}

	// Run the node aynchronously.
	go engine.Run()

	// Stop the node when done.
	defer engine.Node.Shutdown()
}
