// Package config defines the configuration for a roundchain node.
//
// Whether the node is started from Go code or from the command line, options
// are stored in the Config object defined in this package, and translated into
// the settings of each component by NodeConfig. Besides these options, a node
// relies on a data directory, defined by Config.DataDir, where it expects to
// find a few additional files:
//
//  priv_key // a plain text file containing the raw private key (cf. roundchain keygen).
//  peers.json // a JSON file containing the list of the other validators.
//  roundchain.toml // (optional) values for any of the options above.
package config
