package model

import (
	"encoding/json"

	"github.com/NethermindEth/juno/core/felt"
)

// EventQuery describes one event-history query. Two queries with the same
// Identity share a cursor and an accumulated record list.
type EventQuery struct {
	Network         Network         `json:"network"`
	ContractAddress string          `json:"contractAddress"`
	ContractABI     json.RawMessage `json:"abi"`
	EventName       string          `json:"eventName"`
	Filters         map[string]any  `json:"filters,omitempty"`
	FromBlock       uint64          `json:"fromBlock"`
	Watch           bool            `json:"watch"`
	BlockData       bool            `json:"blockData"`
	TransactionData bool            `json:"transactionData"`
	ReceiptData     bool            `json:"receiptData"`
	// DisableFormat skips address normalization; records carry raw Args only.
	DisableFormat bool `json:"disableFormat"`
	// Disabled queries return their current state without touching the network.
	Disabled bool `json:"disabled"`
}

// EventMember is one member of an ABI event struct.
type EventMember struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind string `json:"kind"`
}

const (
	MemberKindKey  = "key"
	MemberKindData = "data"
)

// RawLog is an emitted event as returned by the chain provider.
type RawLog struct {
	FromAddress     *felt.Felt   `json:"from_address"`
	Keys            []*felt.Felt `json:"keys"`
	Data            []*felt.Felt `json:"data"`
	BlockHash       *felt.Felt   `json:"block_hash,omitempty"`
	BlockNumber     uint64       `json:"block_number"`
	TransactionHash *felt.Felt   `json:"transaction_hash,omitempty"`
}

// DecodedEventRecord is a RawLog decoded against its ABI definition, with the
// enrichment payloads requested by the query.
type DecodedEventRecord struct {
	Event       string         `json:"event"`
	Type        []EventMember  `json:"type"`
	Args        map[string]any `json:"args"`
	ParsedArgs  map[string]any `json:"parsedArgs"`
	Log         RawLog         `json:"log"`
	Block       any            `json:"block"`
	Transaction any            `json:"transaction"`
	Receipt     any            `json:"receipt"`
}
