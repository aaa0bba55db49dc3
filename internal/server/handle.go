package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wx-shi/utxo-cluster-indexer/internal/model"
	"github.com/wx-shi/utxo-cluster-indexer/pkg"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	defaultTopLimit = 10
)

// btc renders satoshis as a fixed 8-decimal BTC amount.
func btc(satoshis int64) string {
	return decimal.New(satoshis, -8).StringFixed(8)
}

func fail(ctx *gin.Context, code int, err error) {
	ctx.JSON(code, gin.H{
		"code": code,
		"msg":  err.Error(),
	})
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": data,
	})
}

// bindCluster decodes a cluster request and checks the id was ever issued.
func (s *Server) bindCluster(ctx *gin.Context) (model.ClusterRequest, bool) {
	var req model.ClusterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return req, false
	}
	cp, err := s.db.Checkpoints()
	if err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return req, false
	}
	if req.ClusterID < 0 || req.ClusterID >= cp.NextClusterID {
		fail(ctx, http.StatusNotFound, fmt.Errorf("cluster %d not found", req.ClusterID))
		return req, false
	}
	req.PageSize = pkg.PageSize(req.PageSize, defaultPageSize, maxPageSize)
	return req, true
}

func (s *Server) heightHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		cp, err := s.db.Checkpoints()
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}

		nheight, err := s.node.GetBlockCount(ctx.Request.Context())
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}

		ok(ctx, model.HeightReply{
			NodeHeight:        nheight,
			LastMergedHeight:  cp.LastMergedHeight,
			LastSavedTxHeight: cp.LastSavedTxHeight,
			NextClusterID:     cp.NextClusterID,
		})
	}
}

func (s *Server) addressClusterHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.AddressRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			fail(ctx, http.StatusBadRequest, err)
			return
		}

		id, found, err := s.db.ClusterOf(req.Address)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		if !found {
			fail(ctx, http.StatusNotFound, fmt.Errorf("address %s not indexed", req.Address))
			return
		}
		ok(ctx, model.AddressClusterReply{Address: req.Address, ClusterID: id})
	}
}

func (s *Server) clusterBalanceHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		req, valid := s.bindCluster(ctx)
		if !valid {
			return
		}

		root, err := s.db.Root(req.ClusterID)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		sat, err := s.db.Balance(root)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		ok(ctx, model.BalanceReply{ClusterID: root, Satoshis: sat, Balance: btc(sat)})
	}
}

func (s *Server) clusterTransactionsHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		req, valid := s.bindCluster(ctx)
		if !valid {
			return
		}

		history, err := s.db.History(req.ClusterID)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		page := pkg.Paginate(history, req.Page, req.PageSize)
		txs := make([]*model.TransactionReply, 0, len(page))
		for _, e := range page {
			txs = append(txs, &model.TransactionReply{
				ClusterID: e.ClusterID,
				Height:    e.Height,
				TxIndex:   e.TxIndex,
				TxID:      e.TxID,
				Satoshis:  e.Delta,
				Amount:    btc(e.Delta),
			})
		}
		ok(ctx, model.TransactionsReply{Page: req.Page, PageSize: req.PageSize, Transactions: txs})
	}
}

func (s *Server) clusterAddressesHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		req, valid := s.bindCluster(ctx)
		if !valid {
			return
		}

		root, err := s.db.Root(req.ClusterID)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		addresses, err := s.db.ClusterAddresses(root)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		ok(ctx, model.AddressesReply{
			ClusterID: root,
			Page:      req.Page,
			PageSize:  req.PageSize,
			TotalSize: len(addresses),
			Addresses: pkg.Paginate(addresses, req.Page, req.PageSize),
		})
	}
}

func (s *Server) topClustersHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		var req model.TopRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			fail(ctx, http.StatusBadRequest, err)
			return
		}
		req.Limit = pkg.PageSize(req.Limit, defaultTopLimit, maxPageSize)

		top, err := s.db.TopClusters(req.Limit)
		if err != nil {
			fail(ctx, http.StatusInternalServerError, err)
			return
		}
		reply := make([]*model.BalanceReply, 0, len(top))
		for _, k := range top {
			reply = append(reply, &model.BalanceReply{ClusterID: k.ClusterID, Satoshis: k.Balance, Balance: btc(k.Balance)})
		}
		ok(ctx, reply)
	}
}
