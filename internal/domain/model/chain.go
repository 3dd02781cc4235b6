package model

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
	NetworkDevnet  Network = "devnet"
)

func (n Network) String() string {
	return string(n)
}

// IsFastFinality reports whether blocks on the network settle quickly enough
// to justify a short watch interval (local devnets).
func (n Network) IsFastFinality() bool {
	return n == NetworkDevnet
}

// Valid reports whether n is one of the known networks.
func (n Network) Valid() bool {
	switch n {
	case NetworkMainnet, NetworkSepolia, NetworkDevnet:
		return true
	}
	return false
}
