package model

// BlockHeader is what getblock returns before transactions are attached.
type BlockHeader struct {
	Height   int64
	Hash     string
	PrevHash string
	NextHash string
	TxIDs    []string
}

// Block is a block whose transactions have been fetched and decoded.
type Block struct {
	Height   int64
	Hash     string
	PrevHash string
	NextHash string
	Tx       []*Transaction
}

type Transaction struct {
	TxID    string
	Inputs  []*Input
	Outputs []*Output
}

// Input spends output Vout of transaction TxID. Value and Address are
// filled in by the enricher; Address stays empty when the spent output
// has no single owning address.
type Input struct {
	TxID     string
	Vout     uint32
	Coinbase bool
	Resolved bool
	Value    int64
	Address  string
}

// Output value is in satoshis.
type Output struct {
	Value   int64
	Address string
}

// Checkpoints 导入进度
// A height of -1 means nothing has been processed yet.
type Checkpoints struct {
	LastMergedHeight  int64
	LastSavedTxHeight int64
	LastSavedTxN      int64
	NextClusterID     int64
}

// EmptyCheckpoints is the state of a fresh store.
func EmptyCheckpoints() Checkpoints {
	return Checkpoints{
		LastMergedHeight:  -1,
		LastSavedTxHeight: -1,
		LastSavedTxN:      -1,
		NextClusterID:     0,
	}
}

// BalanceEntry is one row of a cluster's balance history.
type BalanceEntry struct {
	ClusterID int64
	Height    int64
	TxIndex   int64
	TxID      string
	Delta     int64
}
