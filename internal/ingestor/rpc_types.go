package ingestor

// rpcBlock is the subset of eth_getBlockByNumber's result this service reads.
type rpcBlock struct {
	Number       string   `json:"number"`
	Hash         string   `json:"hash"`
	ParentHash   string   `json:"parentHash"`
	Timestamp    string   `json:"timestamp"`
	Transactions []rpcTx  `json:"transactions"`
}

type rpcTx struct {
	Hash string `json:"hash"`
}

// rpcReceipt is the subset of eth_getTransactionReceipt's result this
// service reads: the logs it emitted.
type rpcReceipt struct {
	TransactionHash string   `json:"transactionHash"`
	Logs            []rpcLog `json:"logs"`
}

type rpcLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
	BlockNumber     string   `json:"blockNumber"`
	BlockHash       string   `json:"blockHash"`
}
