// Package engine is the single entry point for executions: it gates on
// hardware, assembles the expert, runs it and settles the usage.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"auria.dev/core/assembler"
	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
	"auria.dev/core/hardware"
	"auria.dev/core/ledger"
)

// Output is what an executor produced.
type Output struct {
	Data   []byte
	Tokens uint64
}

// Executor runs an assembled expert. Numeric kernels live behind it.
type Executor interface {
	Execute(ctx context.Context, a *assembler.AssembledExpert, inputs []byte) (Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, a *assembler.AssembledExpert, inputs []byte) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, a *assembler.AssembledExpert, inputs []byte) (Output, error) {
	return f(ctx, a, inputs)
}

type Request struct {
	Expert auria.ExpertID
	Node   auria.NodeID
	Tier   auria.Tier
	Inputs []byte
}

// Result is a settled execution.
type Result struct {
	Receipt *ledger.Receipt
	Output  Output
}

type Options struct {
	Profiles  hardware.Source
	Assembler *assembler.Assembler
	Ledger    *ledger.Ledger
	Executor  Executor
	Metrics   *Metrics
	Logger    *zap.Logger
}

type pending struct {
	assembled *assembler.AssembledExpert
	outcome   ledger.Outcome
	output    Output
	key       ledger.IdempotencyKey
}

type Engine struct {
	opts    Options
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	seqs    map[auria.NodeID]uint64
	pending map[string]pending
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Profiles == nil:
		return nil, fmt.Errorf("engine: hardware profile source is required")
	case opts.Assembler == nil:
		return nil, fmt.Errorf("engine: assembler is required")
	case opts.Ledger == nil:
		return nil, fmt.Errorf("engine: ledger is required")
	case opts.Executor == nil:
		return nil, fmt.Errorf("engine: executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Engine{
		opts:    opts,
		logger:  logger.Named("engine"),
		metrics: m,
		seqs:    make(map[auria.NodeID]uint64),
		pending: make(map[string]pending),
	}, nil
}

// nextKey returns the node's next idempotency key. The first call for a
// node continues after the last key the ledger has settled.
func (e *Engine) nextKey(ctx context.Context, node auria.NodeID) (ledger.IdempotencyKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq, ok := e.seqs[node]
	if !ok {
		last, found, err := e.opts.Ledger.LastKey(ctx, node)
		if err != nil {
			return ledger.IdempotencyKey{}, err
		}
		if found {
			seq = last.Seq
		}
	}
	seq++
	e.seqs[node] = seq
	return ledger.IdempotencyKey{Node: node, Seq: seq}, nil
}

// RequestExecution runs one request end to end. Every failure is an
// *auria.Error. When settlement fails with a StorageError the execution is
// kept and the error's Ref can be passed to RetrySettlement.
func (e *Engine) RequestExecution(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		err = asAuria(err)
		e.observe(err)
	}()

	if err := auria.CheckID("expert", string(req.Expert)); err != nil {
		return nil, auria.ExpertNotFound(req.Expert)
	}
	if !req.Tier.Valid() {
		return nil, auria.InsufficientHardware(req.Tier, "unknown tier")
	}
	profile, ok := e.opts.Profiles.Profile(req.Node)
	if !ok {
		he := auria.InsufficientHardware(req.Tier, "no hardware profile for node")
		he.Node = req.Node
		return nil, he
	}

	start := time.Now()
	a, err := e.opts.Assembler.Assemble(ctx, assembler.Request{
		Expert:  req.Expert,
		Node:    req.Node,
		Tier:    req.Tier,
		Profile: profile,
	})
	e.metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	out, err := e.opts.Executor.Execute(ctx, a, req.Inputs)
	if err != nil {
		xe := auria.ExecutionError("execution failed", err)
		xe.Expert, xe.Node = a.Expert, a.Node
		return nil, xe
	}

	key, err := e.nextKey(ctx, req.Node)
	if err != nil {
		se := auria.StorageError("allocate idempotency key", err)
		se.Node = req.Node
		return nil, se
	}
	p := pending{
		assembled: a,
		outcome: ledger.Outcome{
			InputsDigest:  cidutil.String(req.Inputs),
			OutputsDigest: cidutil.String(out.Data),
			Tokens:        out.Tokens,
		},
		output: out,
		key:    key,
	}
	return e.settle(ctx, p)
}

func (e *Engine) settle(ctx context.Context, p pending) (*Result, error) {
	r, err := e.opts.Ledger.Commit(ctx, p.assembled, p.outcome, p.key)
	ref := p.key.String()
	if err != nil {
		if auria.IsKind(err, auria.KindStorage) {
			e.mu.Lock()
			if _, ok := e.pending[ref]; !ok {
				e.pending[ref] = p
				e.metrics.Pending.Inc()
			}
			e.mu.Unlock()
			e.logger.Warn("settlement pending", zap.String("ref", ref), zap.Error(err))
			return nil, err
		}
		// Retrying a rejected settlement cannot succeed.
		if e.dropPending(ref) {
			e.logger.Warn("pending settlement dropped", zap.String("ref", ref), zap.Error(err))
		}
		return nil, err
	}

	e.dropPending(ref)
	e.metrics.Settlements.Inc()
	e.logger.Info("execution settled",
		zap.String("expert", string(r.Expert)),
		zap.String("node", string(r.Node)),
		zap.Uint64("seq", r.Seq),
		zap.String("request", r.Request.String()))
	return &Result{Receipt: r, Output: p.output}, nil
}

// dropPending forgets ref and reports whether it was pending.
func (e *Engine) dropPending(ref string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[ref]; !ok {
		return false
	}
	delete(e.pending, ref)
	e.metrics.Pending.Dec()
	return true
}

// RetrySettlement re-commits the execution held under ref with the same
// idempotency key, so a settlement that did land is never charged twice.
func (e *Engine) RetrySettlement(ctx context.Context, ref string) (res *Result, err error) {
	defer func() { err = asAuria(err) }()

	e.mu.Lock()
	p, ok := e.pending[ref]
	e.mu.Unlock()
	if !ok {
		xe := auria.ExecutionError(fmt.Sprintf("no pending settlement %q", ref), nil)
		xe.Ref = ref
		return nil, xe
	}
	return e.settle(ctx, p)
}

// Pending lists refs of settlements awaiting retry.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for ref := range e.pending {
		out = append(out, ref)
	}
	return out
}

func (e *Engine) observe(err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(auria.KindOf(err))
	}
	e.metrics.Requests.WithLabelValues(outcome).Inc()
}

// asAuria guarantees the engine boundary only returns *auria.Error.
func asAuria(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := auria.As(err); ok {
		return ae
	}
	return auria.ExecutionError("internal failure", err)
}
