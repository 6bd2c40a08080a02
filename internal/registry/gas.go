package registry

import "github.com/ggonzalez94/defi-intent/internal/model"

// Conservative per-intent gas estimates used until a simulator quotes the
// actual transaction.
var gasByIntent = map[model.Intent]uint64{
	model.IntentLend:                   180000,
	model.IntentWithdraw:               160000,
	model.IntentBorrow:                 250000,
	model.IntentRepay:                  200000,
	model.IntentSwap:                   150000,
	model.IntentAddLiquidity:           300000,
	model.IntentRemoveLiquidity:        250000,
	model.IntentStake:                  120000,
	model.IntentUnstake:                120000,
	model.IntentOpenPosition:           400000,
	model.IntentClosePosition:          350000,
	model.IntentArbitrage:              450000,
	model.IntentCrossProtocolArbitrage: 650000,
}

func EstimateGas(intent model.Intent) (uint64, bool) {
	gas, ok := gasByIntent[intent]
	return gas, ok
}
