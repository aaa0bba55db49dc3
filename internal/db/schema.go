package db

import (
	"fmt"

	"github.com/wx-shi/utxo-cluster-indexer/pkg"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	blockHashPrefix      = "bh:"
	addressClusterPrefix = "ac:"
	clusterAddressPrefix = "ca:"
	clusterMergedTo      = "cm:"
	clusterMergedFrom    = "cf:"
	clusterBalanceHist   = "cb:"
	clusterBalance       = "cc:"
	balanceIndexPrefix   = "bi:"
	counterPrefix        = "s:"

	lastMergedHeightKey  = "lmh"
	lastSavedTxHeightKey = "lsh"
	lastSavedTxNKey      = "lsn"
	nextClusterIDKey     = "nci"
)

type (
	// MemberKey lists one member address of a cluster.
	MemberKey struct {
		ClusterID int64
		Address   string
	}
	// MergeKey links a surviving cluster to one cluster it absorbed.
	MergeKey struct {
		Target int64
		From   int64
	}
	// HistoryKey orders a cluster's balance history by block then tx.
	HistoryKey struct {
		ClusterID int64
		Height    int64
		TxIndex   int64
	}
	// HistoryValue is protowire encoded: 1=txid, 2=delta (zigzag).
	HistoryValue struct {
		TxID  string
		Delta int64
	}
	// BalanceKey orders clusters by current balance.
	BalanceKey struct {
		Balance   int64
		ClusterID int64
	}
	none struct{}
)

var (
	int64Codec = Codec[int64]{
		Encode: pkg.Int64ToBytes,
		Decode: func(b []byte) (int64, error) {
			if len(b) != pkg.Int64Size {
				return 0, fmt.Errorf("int64 value: want %d bytes, got %d", pkg.Int64Size, len(b))
			}
			return pkg.BytesToInt64(b)
		},
	}
	stringCodec = Codec[string]{
		Encode: func(s string) []byte { return []byte(s) },
		Decode: func(b []byte) (string, error) { return string(b), nil },
	}
	noneCodec = Codec[none]{
		Encode: func(none) []byte { return []byte{} },
		Decode: func([]byte) (none, error) { return none{}, nil },
	}
	memberCodec = Codec[MemberKey]{
		Encode: func(k MemberKey) []byte { return pkg.KeyWithSuffix(k.ClusterID, k.Address) },
		Decode: func(b []byte) (MemberKey, error) {
			id, addr, err := pkg.SplitKeyWithSuffix(b)
			return MemberKey{ClusterID: id, Address: addr}, err
		},
	}
	mergeCodec = Codec[MergeKey]{
		Encode: func(k MergeKey) []byte { return pkg.Key(k.Target, k.From) },
		Decode: func(b []byte) (MergeKey, error) {
			p, err := pkg.SplitKey(b, 2)
			if err != nil {
				return MergeKey{}, err
			}
			return MergeKey{Target: p[0], From: p[1]}, nil
		},
	}
	historyKeyCodec = Codec[HistoryKey]{
		Encode: func(k HistoryKey) []byte { return pkg.Key(k.ClusterID, k.Height, k.TxIndex) },
		Decode: func(b []byte) (HistoryKey, error) {
			p, err := pkg.SplitKey(b, 3)
			if err != nil {
				return HistoryKey{}, err
			}
			return HistoryKey{ClusterID: p[0], Height: p[1], TxIndex: p[2]}, nil
		},
	}
	historyValueCodec = Codec[HistoryValue]{
		Encode: encodeHistoryValue,
		Decode: decodeHistoryValue,
	}
	balanceKeyCodec = Codec[BalanceKey]{
		Encode: func(k BalanceKey) []byte { return pkg.Key(k.Balance, k.ClusterID) },
		Decode: func(b []byte) (BalanceKey, error) {
			p, err := pkg.SplitKey(b, 2)
			if err != nil {
				return BalanceKey{}, err
			}
			return BalanceKey{Balance: p[0], ClusterID: p[1]}, nil
		},
	}
)

var (
	blockHashes     = NewTable(blockHashPrefix, int64Codec, stringCodec)
	addressClusters = NewTable(addressClusterPrefix, stringCodec, int64Codec)
	clusterMembers  = NewTable(clusterAddressPrefix, memberCodec, noneCodec)
	mergedTo        = NewTable(clusterMergedTo, int64Codec, int64Codec)
	mergedFrom      = NewTable(clusterMergedFrom, mergeCodec, noneCodec)
	balanceHistory  = NewTable(clusterBalanceHist, historyKeyCodec, historyValueCodec)
	currentBalances = NewTable(clusterBalance, int64Codec, int64Codec)
	balanceIndex    = NewTable(balanceIndexPrefix, balanceKeyCodec, noneCodec)
	counters        = NewTable(counterPrefix, stringCodec, int64Codec)
)

func encodeHistoryValue(v HistoryValue) []byte {
	b := make([]byte, 0, len(v.TxID)+16)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, v.TxID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v.Delta))
}

func decodeHistoryValue(b []byte) (HistoryValue, error) {
	var v HistoryValue
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			v.TxID = s
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			v.Delta = protowire.DecodeZigZag(x)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return v, nil
}
