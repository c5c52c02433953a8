// Package models defines the domain entities shared by the ingestor,
// processor, and delivery services: chains, tenants, endpoints, and the
// jobs and attempts that flow between them.
package models

import "time"

// Chain describes one EVM-compatible network the Event Ingestor watches.
type Chain struct {
	ID              string `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	WebSocketURL    string `db:"websocket_url" json:"websocket_url"`
	Enabled         bool   `db:"enabled" json:"enabled"`
	ConfirmationLag int    `db:"confirmation_lag" json:"confirmation_lag"`
}

// RawBlock is the minimal block header the ingestor needs to walk logs.
type RawBlock struct {
	ChainID    string    `json:"chain_id"`
	Number     uint64    `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// RawEvent is a single decoded log entry pulled from a block, identified
// uniquely by (ChainID, TxHash, LogIndex).
type RawEvent struct {
	ChainID         string         `json:"chain_id" db:"chain_id"`
	BlockNumber     uint64         `json:"block_number" db:"block_number"`
	BlockHash       string         `json:"block_hash" db:"block_hash"`
	TxHash          string         `json:"tx_hash" db:"tx_hash"`
	LogIndex        int            `json:"log_index" db:"log_index"`
	ContractAddress string         `json:"contract_address" db:"contract_address"`
	Topics          []string       `json:"topics" db:"-"`
	Data            string         `json:"data" db:"-"`
	EventSignature  string         `json:"event_signature" db:"event_signature"`
	IngestedAt      time.Time      `json:"ingested_at" db:"ingested_at"`
}

// DedupKey is the Redis key shape used to suppress duplicate ingestion of
// the same log entry: event:{chain_id}:{tx_hash}:{log_index}.
type DedupKey struct {
	ChainID  string
	TxHash   string
	LogIndex int
}
