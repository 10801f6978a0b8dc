package bidding

import (
	"context"

	"Archive-Agents/internal/ledger"
	"Archive-Agents/pkg/logger"
)

// Adjuster 根据当前可见的竞争出价压低报价。
type Adjuster struct {
	ledger         ledger.Client
	self           string
	undercutFactor float64
	flatDiscount   uint64
}

// NewAdjuster 创建调价器。self 为本代理地址，自己的历史出价不参与比较。
func NewAdjuster(led ledger.Client, self string, profile Profile) *Adjuster {
	profile = profile.Normalize()
	return &Adjuster{
		ledger:         led,
		self:           self,
		undercutFactor: profile.UndercutFactor,
		flatDiscount:   profile.FlatDiscount,
	}
}

// Apply 按竞争情况调整决策，失败时原样放行。
func (a *Adjuster) Apply(ctx context.Context, jobID uint64, decision Decision) Decision {
	if !decision.ShouldBid || decision.ProposedAmount == 0 || a.ledger == nil {
		return decision
	}

	bids, err := a.ledger.GetBidsForJob(ctx, jobID)
	if err != nil {
		// 调价只是尽力而为，查询失败不阻塞出价。
		logger.L().Warn("查询竞争出价失败，跳过调价", "job_id", jobID, "error", err)
		return decision
	}

	lowest := uint64(0)
	for _, bid := range bids {
		if bid.Amount == 0 || ledger.SameAddress(bid.Bidder, a.self) {
			continue
		}
		if lowest == 0 || bid.Amount < lowest {
			lowest = bid.Amount
		}
	}
	if lowest == 0 {
		return decision
	}

	undercut := int64(float64(lowest) * a.undercutFactor)
	flat := int64(lowest) - int64(a.flatDiscount)
	target := undercut
	if flat > target {
		target = flat
	}

	if target > 0 && uint64(target) < decision.ProposedAmount {
		decision.ProposedAmount = uint64(target)
	}
	return decision
}
