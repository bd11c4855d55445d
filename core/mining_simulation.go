package core

// mining_simulation.go - quick Monte Carlo estimation of selfish-mining
// revenue share. It is a standalone estimator, separate from the
// event-driven SelfishMiner protocol in ancillary.go, and answers only one
// question — what revenue share an attacker gets at a given hash power and
// propagation advantage.

import (
	"crypto/rand"
	"math/big"
)

// SimulateSelfishMiningWith runs rounds of the simplified Eyal-Sirer block
// race: at each round the attacker extends its private branch with
// probability alpha, otherwise the honest network extends the public chain.
// gamma is the fraction of honest miners that adopt the attacker's block in
// a one-block tie. Returns the attacker's share of total revenue.
func SimulateSelfishMiningWith(rounds int, alpha, gamma float64) float64 {
	if rounds <= 0 || alpha < 0 || alpha >= 1 || gamma < 0 || gamma > 1 {
		return 0
	}

	var attackerRevenue, honestRevenue, privateLead int
	for i := 0; i < rounds; i++ {
		r, err := randFloat64()
		if err != nil {
			return 0
		}
		if r < alpha {
			privateLead++
			continue
		}

		switch {
		case privateLead == 0:
			honestRevenue++
		case privateLead == 1:
			r2, err := randFloat64()
			if err != nil {
				return 0
			}
			if r2 < gamma {
				attackerRevenue++
			} else {
				honestRevenue++
			}
			privateLead = 0
		default:
			attackerRevenue += privateLead
			privateLead = 0
		}
	}
	if privateLead > 0 {
		attackerRevenue += privateLead
	}

	total := attackerRevenue + honestRevenue
	if total == 0 {
		return 0
	}
	return float64(attackerRevenue) / float64(total)
}

// SimulateSelfishMining runs SimulateSelfishMiningWith with gamma=0.5, the
// no-propagation-advantage baseline.
func SimulateSelfishMining(rounds int, alpha float64) float64 {
	return SimulateSelfishMiningWith(rounds, alpha, 0.5)
}

// randFloat64 returns a cryptographically secure random float64 in [0,1).
func randFloat64() (float64, error) {
	const maxBits = 53
	max := big.NewInt(1 << maxBits)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<maxBits), nil
}
