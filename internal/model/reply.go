package model

type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

type ClusterRequest struct {
	ClusterID int64 `json:"cluster_id"`
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
}

type TopRequest struct {
	Limit int `json:"limit"`
}

type HeightReply struct {
	NodeHeight        int64 `json:"node_height"`
	LastMergedHeight  int64 `json:"last_merged_height"`
	LastSavedTxHeight int64 `json:"last_saved_tx_height"`
	NextClusterID     int64 `json:"next_cluster_id"`
}

type AddressClusterReply struct {
	Address   string `json:"address"`
	ClusterID int64  `json:"cluster_id"`
}

type BalanceReply struct {
	ClusterID int64  `json:"cluster_id"`
	Satoshis  int64  `json:"satoshis"`
	Balance   string `json:"balance"`
}

type TransactionReply struct {
	ClusterID int64  `json:"cluster_id"`
	Height    int64  `json:"height"`
	TxIndex   int64  `json:"tx_index"`
	TxID      string `json:"txid"`
	Satoshis  int64  `json:"satoshis"`
	Amount    string `json:"amount"`
}

type TransactionsReply struct {
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	Transactions []*TransactionReply `json:"transactions"`
}

type AddressesReply struct {
	ClusterID int64    `json:"cluster_id"`
	Page      int      `json:"page"`
	PageSize  int      `json:"page_size"`
	TotalSize int      `json:"total_size"`
	Addresses []string `json:"addresses"`
}
