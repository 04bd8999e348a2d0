package main

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distgrid/distgrid/internal/backend/singleprocess"
	"github.com/distgrid/distgrid/pkg/logger"
	"github.com/distgrid/distgrid/pkg/partitioner"
	"github.com/distgrid/distgrid/pkg/space"
)

// TestMarkovStationaryDistributionSumsToOne drives the same write/read
// SwitchTo ping-pong main()'s scenario loop uses, over the
// singleprocess backend, at a size small enough to run inline. This is
// the S1/S2 testable property: newMGraph divides every edge's
// probability by the total weight leaving its source state, so each
// state's outgoing probabilities sum to 1, the transition matrix is
// column-stochastic and the gathered distribution's total mass must
// stay at 1.0 regardless of starting distribution.
func TestMarkovStationaryDistributionSumsToOne(t *testing.T) {
	const n, in, ranks, miter = 40, 3, 4, 5

	mg := newMGraph(n, in)
	sp := space.New1D(int64(n))

	pWrite := partitioner.Block(partitioner.BlockOptions{PDim: 0})
	pMaster := partitioner.Master()
	pWriteRL := pWrite.Run(partitioner.StaticGroup(ranks), sp, nil)
	pRead := predecessorPartitioner(mg, pWriteRL)

	scenarios := []struct {
		name    string
		init    int64
		uniform bool
	}{
		{name: "state 0 prob 1", init: 0},
		{name: "state 1 prob 1", init: 1},
		{name: "all probs equal", uniform: true},
	}

	for _, scen := range scenarios {
		scen := scen
		t.Run(scen.name, func(t *testing.T) {
			be := singleprocess.New(ranks)
			results := make([]*scenarioResult, ranks)
			var mu sync.Mutex
			var wg sync.WaitGroup
			wg.Add(ranks)
			for r := 0; r < ranks; r++ {
				go func(rank int) {
					defer wg.Done()
					res := runScenario(context.Background(), rank, mg, miter, be, sp, pWrite, pRead, pMaster, scen.init, scen.uniform, logger.NewNop())
					if res != nil {
						mu.Lock()
						results[rank] = res
						mu.Unlock()
					}
				}(r)
			}
			wg.Wait()

			require.NotNil(t, results[0])
			assert.InDelta(t, 1.0, results[0].Sum, 1e-6)
		})
	}
}
