package bidding

import (
	"Archive-Agents/internal/ledger"
)

// 竞价相关的默认参数。
const (
	DefaultMinAcceptableBudget uint64  = 1_000_000
	DefaultAggressiveness      float64 = 0.8
	DefaultETASeconds          uint64  = 3600
	DefaultUndercutFactor      float64 = 0.95
	DefaultFlatDiscount        uint64  = 10_000
)

// Profile 描述代理的竞价性格与能力范围。
type Profile struct {
	AgentType           string
	SupportedJobTypes   []ledger.JobType
	MaxConcurrentJobs   int
	MinAcceptableBudget uint64
	Aggressiveness      float64
	DefaultETASeconds   uint64
	UndercutFactor      float64
	FlatDiscount        uint64
}

// Normalize 为未设置的字段填充默认值。
func (p Profile) Normalize() Profile {
	if p.MaxConcurrentJobs <= 0 {
		p.MaxConcurrentJobs = 5
	}
	if p.MinAcceptableBudget == 0 {
		p.MinAcceptableBudget = DefaultMinAcceptableBudget
	}
	if p.Aggressiveness <= 0 || p.Aggressiveness > 1 {
		p.Aggressiveness = DefaultAggressiveness
	}
	if p.DefaultETASeconds == 0 {
		p.DefaultETASeconds = DefaultETASeconds
	}
	if p.UndercutFactor <= 0 || p.UndercutFactor >= 1 {
		p.UndercutFactor = DefaultUndercutFactor
	}
	if p.FlatDiscount == 0 {
		p.FlatDiscount = DefaultFlatDiscount
	}
	return p
}

// Supports 判断任务类型是否在代理能力范围内。
func (p Profile) Supports(jobType ledger.JobType) bool {
	for _, supported := range p.SupportedJobTypes {
		if supported == jobType {
			return true
		}
	}
	return false
}
