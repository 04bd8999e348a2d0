// Command markov runs the distributed Markov chain stationary-distribution
// example: a ring-connected transition graph is iteratively applied under
// a Block write partitioning and a predecessor-aware read partitioning,
// gathered to rank 0 via Master for a checksum. Ported from
// examples/markov.c, simulating every rank as a goroutine over one
// singleprocess.Backend (S1/S2 of the testable properties).
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/distgrid/distgrid/internal/backend"
	"github.com/distgrid/distgrid/internal/backend/singleprocess"
	"github.com/distgrid/distgrid/internal/container"
	"github.com/distgrid/distgrid/internal/observability"
	"github.com/distgrid/distgrid/internal/transition"
	"github.com/distgrid/distgrid/pkg/layout"
	"github.com/distgrid/distgrid/pkg/logger"
	"github.com/distgrid/distgrid/pkg/partitioner"
	"github.com/distgrid/distgrid/pkg/rangelist"
	"github.com/distgrid/distgrid/pkg/space"
)

// mgraph is a ring-structured Markov chain: cm[i*(in+1)+j] names the j-th
// state that feeds into state i (j=0 is i itself), pm holds the matching
// normalized transition probability. Ported from markov.c's MGraph/init.
type mgraph struct {
	n, in int
	cm    []int
	pm    []float64
}

func newMGraph(n, in int) *mgraph {
	mg := &mgraph{n: n, in: in, cm: make([]int, n*(in+1)), pm: make([]float64, n*(in+1))}
	sum := make([]float64, n)
	for i := 0; i < n; i++ {
		step := 1
		mg.cm[i*(in+1)] = i
		mg.pm[i*(in+1)] = 5
		sum[i] += 5
		for j := 1; j <= in; j++ {
			fromNode := (i + step) % n
			prob := float64((j+i)%(5*in)) + 1
			sum[fromNode] += prob
			mg.cm[i*(in+1)+j] = fromNode
			mg.pm[i*(in+1)+j] = prob
			step = 2*step + j
			for step > n {
				step -= n
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= in; j++ {
			mg.pm[i*(in+1)+j] /= sum[mg.cm[i*(in+1)+j]]
		}
	}
	return mg
}

// predecessorPartitioner builds the read partitioning: every task keeps,
// for each state it writes under wrl, that state's own slot plus every
// incoming state's slot. wrl is fixed for the whole run, matching
// markov.c's one-time laik_new_partitioning(world, space, pr, pWrite).
// Every slot is appended under mapNo 0 so Build sorts a task's slots by
// index and drops duplicates, which Sparse1D's interval map needs.
func predecessorPartitioner(mg *mgraph, wrl *rangelist.RangeList) *partitioner.Partitioner {
	return partitioner.Custom("markov-predecessor", func(b *rangelist.Builder, g partitioner.Group, sp *space.Space, _ *rangelist.RangeList) {
		for task := 0; task < g.Size(); task++ {
			for _, e := range wrl.Segment(task) {
				for st := e.Range.From.I[0]; st < e.Range.To.I[0]; st++ {
					off := int(st) * (mg.in + 1)
					for j := 0; j <= mg.in; j++ {
						in := int64(mg.cm[off+j])
						b.AppendWithMapNo(task, space.NewRange1D(sp, in, in+1), 0)
					}
				}
			}
		}
	})
}

func getFloat(buf []byte, off int64) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[off*8 : off*8+8]))
}

func setFloat(buf []byte, off int64, v float64) {
	binary.LittleEndian.PutUint64(buf[off*8:off*8+8], math.Float64bits(v))
}

func main() {
	n := flag.Int("n", 1000000, "number of markov chain states")
	in := flag.Int("in", 10, "fan-in per state")
	miter := flag.Int("iter", 10, "iterations per scenario")
	ranks := flag.Int("ranks", 4, "number of simulated ranks")
	flag.Parse()

	if *n == 0 {
		*n = 1000000
	}
	if *in == 0 {
		*in = 10
	}

	log := logger.NewDefault()
	log.Info("init markov chain", "states", *n, "fanin", *in, "iterations", *miter, "ranks", *ranks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	observability.SampleRSS(ctx, "markov", 5*time.Second, log)

	mg := newMGraph(*n, *in)
	sp := space.New1D(int64(*n))
	be := singleprocess.New(*ranks)

	pWrite := partitioner.Block(partitioner.BlockOptions{PDim: 0})
	pMaster := partitioner.Master()
	pWriteRL := pWrite.Run(partitioner.StaticGroup(*ranks), sp, nil)
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
		log.Info("starting scenario", "name", scen.name)
		var wg sync.WaitGroup
		wg.Add(*ranks)
		for r := 0; r < *ranks; r++ {
			go func(rank int) {
				defer wg.Done()
				runScenario(ctx, rank, mg, *miter, be, sp, pWrite, pRead, pMaster, scen.init, scen.uniform, log)
			}(r)
		}
		wg.Wait()
	}
}

// scenarioResult is rank 0's final gathered checksum; runScenario
// returns nil on every other rank.
type scenarioResult struct {
	P0, P1, P2, Sum float64
}

func runScenario(
	ctx context.Context, rank int, mg *mgraph, miter int,
	be *singleprocess.Backend, sp *space.Space,
	pWrite, pRead, pMaster *partitioner.Partitioner,
	initState int64, uniform bool, log logger.Logger,
) *scenarioResult {
	must := func(err error) {
		if err != nil {
			log.Fatal("markov: switchto failed", "rank", rank, "error", err)
		}
	}

	g, err := be.Init(ctx, backend.Config{Self: backend.Peer{Task: rank}})
	if err != nil {
		log.Fatal("markov: backend init failed", "rank", rank, "error", err)
	}

	data1 := container.NewData(sp, 8, be, g, container.WithGroupLabel("markov"))
	data2 := container.NewData(sp, 8, be, g, container.WithGroupLabel("markov"))
	dRead, dWrite := data1, data2

	// Seed the initial distribution into dRead (data1), the container
	// pRead's first SwitchTo below will actually read from — matching
	// markov.c's laik_switchto(data1, pWrite, LAIK_DF_CopyOut) before
	// run()'s loop begins.
	must(dRead.SwitchTo(ctx, pWrite, container.SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.CopyOut}))
	lo, hi := dRead.OwnedRange()
	buf := dRead.MapDef1().Bytes()
	if uniform {
		p := 1.0 / float64(mg.n)
		for i := lo; i < hi; i++ {
			off, _ := dRead.Global2Local(space.NewIndex1D(i))
			setFloat(buf, off, p)
		}
	} else {
		for i := lo; i < hi; i++ {
			off, _ := dRead.Global2Local(space.NewIndex1D(i))
			setFloat(buf, off, 0)
		}
		if off, ok := dRead.Global2Local(space.NewIndex1D(initState)); ok {
			setFloat(buf, off, 1.0)
		}
	}

	for iter := 0; iter < miter; iter++ {
		must(dRead.SwitchTo(ctx, pRead, container.SwitchOptions{Kind: layout.KindSparse1D, Flags: transition.CopyIn}))
		must(dWrite.SwitchTo(ctx, pWrite, container.SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.CopyOut}))

		srcBuf := dRead.MapDef1().Bytes()
		dstBuf := dWrite.MapDef1().Bytes()
		wlo, whi := dWrite.OwnedRange()
		for i := wlo; i < whi; i++ {
			off := int(i) * (mg.in + 1)
			srcOff, _ := dRead.Global2Local(space.NewIndex1D(int64(mg.cm[off])))
			v := getFloat(srcBuf, srcOff) * mg.pm[off]
			for j := 1; j <= mg.in; j++ {
				so, _ := dRead.Global2Local(space.NewIndex1D(int64(mg.cm[off+j])))
				v += getFloat(srcBuf, so) * mg.pm[off+j]
			}
			dstOff, _ := dWrite.Global2Local(space.NewIndex1D(i))
			setFloat(dstBuf, dstOff, v)
		}

		if iter != miter-1 {
			dRead, dWrite = dWrite, dRead
		}
	}

	must(dWrite.SwitchTo(ctx, pMaster, container.SwitchOptions{Kind: layout.KindCompact1D, Flags: transition.CopyIn}))

	if rank != 0 {
		return nil
	}

	m := dWrite.MapDef1()
	resultBuf := m.Bytes()
	var sum float64
	for i := int64(0); i < m.Layout().LocalLength(); i++ {
		sum += getFloat(resultBuf, i)
	}
	result := &scenarioResult{
		P0:  getFloat(resultBuf, 0),
		P1:  getFloat(resultBuf, 1),
		P2:  getFloat(resultBuf, 2),
		Sum: sum,
	}
	log.Info("scenario result", "p0", result.P0, "p1", result.P1, "p2", result.P2, "sum", result.Sum)
	return result
}
