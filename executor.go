package streamz

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"golang.org/x/sync/errgroup"
)

// Metric keys.
const (
	ExecutorPipelinesActive = metricz.Key("executor.pipelines.active")
	ExecutorPipelinesTotal  = metricz.Key("executor.pipelines.total")
	ExecutorFailuresTotal   = metricz.Key("executor.failures.total")
	ExecutorSlicesTotal     = metricz.Key("executor.slices.total")
	ExecutorChunksTotal     = metricz.Key("executor.chunks.total")
)

// Trace keys.
const (
	PipelineRunSpan = tracez.Key("pipeline.run")

	PipelineTagName  = tracez.Tag("pipeline.name")
	PipelineTagError = tracez.Tag("pipeline.error")
)

// Hook keys.
const (
	PipelineEventStarted  = hookz.Key("pipeline.started")
	PipelineEventFinished = hookz.Key("pipeline.finished")
	PipelineEventFailed   = hookz.Key("pipeline.failed")
)

// yieldInterval is how many rows a CPU-bound operator processes between
// explicit cooperative yields.
const yieldInterval = 64 << 10

// defaultGracePeriod bounds how long operators get to drain buffered output
// after shutdown before the executor discards it.
const defaultGracePeriod = 10 * time.Second

// PipelineEvent describes one pipeline run lifecycle transition.
type PipelineEvent struct {
	Pipeline  Name
	ID        PipelineID
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

// emitHook fires a hook event, ignoring delivery errors: observability must
// never perturb the data path.
func emitHook[E any](h *hookz.Hooks[E], key hookz.Key, e E) {
	_ = h.Emit(context.Background(), key, e) //nolint:errcheck
}

// Executor runs pipelines. Each pipeline becomes a group of cooperating
// operator tasks linked by bounded buffers; multiple pipelines share a
// bounded worker pool. Operators within a pipeline never share mutable
// state; everything moves over the links.
//
// Create one Executor per process and reuse it: the worker pool, metrics,
// and hooks accumulate across runs.
type Executor struct {
	workers     chan struct{}
	clock       clockz.Clock
	log         logrus.FieldLogger
	secrets     SecretResolver
	allowUnsafe bool
	grace       time.Duration
	linkCap     int
	metrics     *metricz.Registry
	tracer      *tracez.Tracer
	hooks       *hookz.Hooks[PipelineEvent]
}

// NewExecutor creates an executor with one worker slot per CPU.
func NewExecutor() *Executor {
	metrics := metricz.New()
	metrics.Counter(ExecutorPipelinesTotal)
	metrics.Counter(ExecutorFailuresTotal)
	metrics.Counter(ExecutorSlicesTotal)
	metrics.Counter(ExecutorChunksTotal)
	metrics.Gauge(ExecutorPipelinesActive)
	return &Executor{
		workers: make(chan struct{}, runtime.NumCPU()),
		log:     logrus.StandardLogger(),
		grace:   defaultGracePeriod,
		linkCap: defaultLinkCapacity,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PipelineEvent](),
	}
}

// WithWorkers bounds how many pipelines run concurrently.
func (x *Executor) WithWorkers(n int) *Executor {
	if n < 1 {
		n = 1
	}
	x.workers = make(chan struct{}, n)
	return x
}

// WithClock sets a custom clock for testing.
func (x *Executor) WithClock(clock clockz.Clock) *Executor {
	x.clock = clock
	return x
}

// WithLogger sets the logger.
func (x *Executor) WithLogger(log logrus.FieldLogger) *Executor {
	x.log = log
	return x
}

// WithSecretResolver wires the resolver operators reach through their
// control plane handle.
func (x *Executor) WithSecretResolver(r SecretResolver) *Executor {
	x.secrets = r
	return x
}

// WithAllowUnsafe gates operators that escape the sandbox.
func (x *Executor) WithAllowUnsafe(allow bool) *Executor {
	x.allowUnsafe = allow
	return x
}

// WithGracePeriod sets how long shutdown waits for operators to drain.
func (x *Executor) WithGracePeriod(d time.Duration) *Executor {
	x.grace = d
	return x
}

// WithLinkCapacity bounds per-link buffering in elements.
func (x *Executor) WithLinkCapacity(k int) *Executor {
	if k < 1 {
		k = 1
	}
	x.linkCap = k
	return x
}

func (x *Executor) getClock() clockz.Clock {
	if x.clock == nil {
		return clockz.RealClock
	}
	return x.clock
}

// Metrics returns the executor's metrics registry.
func (x *Executor) Metrics() *metricz.Registry { return x.metrics }

// Tracer returns the executor's tracer.
func (x *Executor) Tracer() *tracez.Tracer { return x.tracer }

// OnStarted registers a handler for pipeline starts.
func (x *Executor) OnStarted(handler func(context.Context, PipelineEvent) error) error {
	_, err := x.hooks.Hook(PipelineEventStarted, handler)
	return err
}

// OnFinished registers a handler for successful pipeline completions.
func (x *Executor) OnFinished(handler func(context.Context, PipelineEvent) error) error {
	_, err := x.hooks.Hook(PipelineEventFinished, handler)
	return err
}

// OnFailed registers a handler for failed pipeline runs.
func (x *Executor) OnFailed(handler func(context.Context, PipelineEvent) error) error {
	_, err := x.hooks.Hook(PipelineEventFailed, handler)
	return err
}

// Close shuts down observability components.
func (x *Executor) Close() error {
	if x.tracer != nil {
		x.tracer.Close()
	}
	x.hooks.Close()
	return nil
}

type runConfig struct {
	id    PipelineID
	hasID bool
	coord *CheckpointCoordinator
	diags DiagnosticSink
}

// RunOption configures one pipeline run.
type RunOption func(*runConfig)

// WithCheckpoints enables barrier checkpointing through the given
// coordinator. Combine with WithPipelineID to resume a previous run's
// state.
func WithCheckpoints(coord *CheckpointCoordinator) RunOption {
	return func(c *runConfig) { c.coord = coord }
}

// WithPipelineID pins the run's identity, which checkpoint state is keyed
// by. Without it every run gets a fresh identity and never resumes.
func WithPipelineID(id PipelineID) RunOption {
	return func(c *runConfig) { c.id = id; c.hasID = true }
}

// WithDiagnostics routes the run's diagnostics into the given sink.
func WithDiagnostics(sink DiagnosticSink) RunOption {
	return func(c *runConfig) { c.diags = sink }
}

// PipelineRun is a handle on one running pipeline.
type PipelineRun struct {
	// ID is the run's pipeline identity.
	ID PipelineID

	executor     *Executor
	name         Name
	cancel       context.CancelFunc
	shuttingDown *atomic.Bool
	done         chan struct{}
	err          error
	started      time.Time
	sched        *checkpointSchedule
}

// Shutdown requests a graceful stop: the source stops producing, every
// operator drains its buffered output downstream, and the run ends. If the
// drain exceeds the executor's grace period, remaining output is discarded
// and the run reports cancelled.
func (r *PipelineRun) Shutdown() {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	go func() {
		select {
		case <-r.done:
		case <-r.executor.getClock().After(r.executor.grace):
			r.cancel()
		}
	}()
}

// Wait blocks until the run ends and returns its outcome.
func (r *PipelineRun) Wait() error {
	<-r.done
	return r.err
}

// Done returns a channel closed when the run ends.
func (r *PipelineRun) Done() <-chan struct{} { return r.done }

// Run executes a closed pipeline to completion.
func (x *Executor) Run(ctx context.Context, p *Pipeline, opts ...RunOption) error {
	run, err := x.Start(ctx, p, opts...)
	if err != nil {
		return err
	}
	return run.Wait()
}

// Start type-checks, optimizes, instantiates, and launches a pipeline,
// returning a handle. Configuration errors surface here, before any data
// flows.
func (x *Executor) Start(ctx context.Context, p *Pipeline, opts ...RunOption) (*PipelineRun, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasID {
		cfg.id = NewPipelineID()
	}
	if err := p.CheckClosed(); err != nil {
		return nil, err
	}
	optimized := p.Optimized()
	if err := optimized.CheckClosed(); err != nil {
		return nil, err
	}
	ops := optimized.Operators()

	// Acquire a worker slot; pipelines beyond the pool size queue here.
	select {
	case x.workers <- struct{}{}:
	case <-ctx.Done():
		return nil, WrapError(CodeCanceled, p.Name(), ctx.Err())
	}

	shuttingDown := &atomic.Bool{}
	instances, planes, err := x.instantiate(ops, cfg, shuttingDown)
	if err != nil {
		<-x.workers
		return nil, err
	}

	firstID := uint64(1)
	if cfg.coord != nil {
		if restoredID, ok := x.restore(cfg, ops, instances); ok {
			firstID = restoredID + 1
		} else {
			// A failed restore taints instance state; rebuild from scratch.
			instances, planes, err = x.instantiate(ops, cfg, shuttingDown)
			if err != nil {
				<-x.workers
				return nil, err
			}
		}
	}

	var sched *checkpointSchedule
	if cfg.coord != nil {
		var blocked []Name
		for i, op := range ops {
			if _, stateful := instances[i].(Stateful); !IsDeterministic(op) && !stateful {
				blocked = append(blocked, op.Name())
			}
		}
		sched = cfg.coord.schedule(cfg.id, len(ops), firstID, blocked)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &PipelineRun{
		ID:           cfg.id,
		executor:     x,
		name:         p.Name(),
		cancel:       cancel,
		shuttingDown: shuttingDown,
		done:         make(chan struct{}),
		started:      x.getClock().Now(),
		sched:        sched,
	}

	links := make([]*link, len(ops)-1)
	for i := range links {
		links[i] = newLink(x.linkCap)
	}

	runCtx, span := x.tracer.StartSpan(runCtx, PipelineRunSpan)
	span.SetTag(PipelineTagName, p.Name())

	g, gctx := errgroup.WithContext(runCtx)
	for i := range ops {
		i := i
		var in *link
		var out *link
		if i > 0 {
			in = links[i-1]
		}
		if i < len(links) {
			out = links[i]
		}
		g.Go(func() (err error) {
			defer recoverToError(&err, ops[i].Name())
			if in == nil {
				return x.driveSource(gctx, ops[i].Name(), i, instances[i], planes[i], out, sched)
			}
			return x.driveProcessor(gctx, ops[i].Name(), i, instances[i], planes[i], in, out)
		})
	}

	x.metrics.Counter(ExecutorPipelinesTotal).Inc()
	x.metrics.Gauge(ExecutorPipelinesActive).Set(float64(len(x.workers)))
	emitHook(x.hooks, PipelineEventStarted, PipelineEvent{
		Pipeline:  p.Name(),
		ID:        cfg.id,
		Timestamp: run.started,
	})
	x.log.WithField("pipeline", p.Name()).WithField("id", cfg.id).Debug("pipeline started")

	go func() {
		err := g.Wait()
		if sched != nil {
			sched.stop()
		}
		cancel()
		span.Finish()
		elapsed := x.getClock().Now().Sub(run.started)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = &Error{
					Code:      CodeCanceled,
					Err:       err,
					Path:      []Name{p.Name()},
					Canceled:  true,
					Duration:  elapsed,
					Timestamp: time.Now(),
				}
			}
			run.err = err
			span.SetTag(PipelineTagError, err.Error())
			x.metrics.Counter(ExecutorFailuresTotal).Inc()
			emitHook(x.hooks, PipelineEventFailed, PipelineEvent{
				Pipeline:  p.Name(),
				ID:        cfg.id,
				Err:       err,
				Duration:  elapsed,
				Timestamp: x.getClock().Now(),
			})
			x.log.WithError(err).WithField("pipeline", p.Name()).Warn("pipeline failed")
		} else {
			emitHook(x.hooks, PipelineEventFinished, PipelineEvent{
				Pipeline:  p.Name(),
				ID:        cfg.id,
				Duration:  elapsed,
				Timestamp: x.getClock().Now(),
			})
			x.log.WithField("pipeline", p.Name()).Debug("pipeline finished")
		}
		<-x.workers
		x.metrics.Gauge(ExecutorPipelinesActive).Set(float64(len(x.workers)))
		close(run.done)
	}()
	return run, nil
}

// instantiate builds the per-operator instances and control plane handles.
func (x *Executor) instantiate(ops []Operator, cfg runConfig, shuttingDown *atomic.Bool) ([]Instance, []*controlPlane, error) {
	instances := make([]Instance, len(ops))
	planes := make([]*controlPlane, len(ops))
	for i, op := range ops {
		planes[i] = &controlPlane{
			operator:     op.Name(),
			index:        i,
			sink:         cfg.diags,
			secrets:      x.secrets,
			allowUnsafe:  x.allowUnsafe,
			shuttingDown: shuttingDown,
		}
		inst, err := op.Instantiate(planes[i])
		if err != nil {
			return nil, nil, WrapError(CodeConfiguration, op.Name(), err)
		}
		instances[i] = inst
	}
	return instances, planes, nil
}

// restore applies the newest readable checkpoint to freshly instantiated
// operators. It reports the restored checkpoint id; false means the run
// must start from scratch with fresh instances.
func (x *Executor) restore(cfg runConfig, ops []Operator, instances []Instance) (uint64, bool) {
	id, blobs, ok := cfg.coord.loadLatest(cfg.id, len(ops))
	if !ok {
		return 0, false
	}
	for i, inst := range instances {
		st, stateful := inst.(Stateful)
		if !stateful {
			if len(blobs[i]) != 0 {
				x.log.WithField("operator", ops[i].Name()).
					Warn("state blob for stateless operator, starting from scratch")
				return 0, false
			}
			continue
		}
		if err := st.RestoreState(blobs[i]); err != nil {
			x.log.WithError(err).WithField("operator", ops[i].Name()).
				Warn("state restore failed, starting from scratch")
			return 0, false
		}
	}
	x.log.WithField("checkpoint", id).Info("pipeline state restored")
	return id, true
}

// snapshotState captures an instance's checkpoint blob; stateless instances
// snapshot as empty.
func snapshotState(inst Instance) ([]byte, error) {
	if st, ok := inst.(Stateful); ok {
		return st.CheckpointState()
	}
	return nil, nil
}

// flusher is the facet shared by event and chunk processors that lets the
// executor force out buffered output at a barrier.
type flusher interface {
	Flush(ctx context.Context, out Emitter) error
}

// finisher is the end-of-input facet.
type finisher interface {
	Finish(ctx context.Context, out Emitter) error
}

// driveSource advances a source instance: poll, inject pending barriers
// between polls, and stop on exhaustion or shutdown. Closing the output
// link is the end-of-stream signal for the rest of the chain.
func (x *Executor) driveSource(ctx context.Context, name Name, index int, inst Instance, ctl *controlPlane, out *link, sched *checkpointSchedule) error {
	var em Emitter = discardEmitter{}
	if out != nil {
		em = linkEmitter{l: out}
		defer out.close()
	}
	src, ok := inst.(SourceInstance)
	if !ok {
		return Errorf(CodeKindMismatch, "operator %q cannot run as a source", name)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sched != nil {
			select {
			case b := <-sched.barriers():
				state, err := snapshotState(inst)
				if err != nil {
					x.log.WithError(err).WithField("operator", name).Warn("state snapshot failed")
				} else {
					b.Ack(index, state)
				}
				if out != nil {
					if err := out.send(ctx, BarrierElement(b)); err != nil {
						return err
					}
				}
			default:
			}
		}
		if ctl.IsShuttingDown() {
			return nil
		}
		done, err := src.Poll(ctx, em)
		if err != nil {
			return WrapError(CodeRuntime, name, err)
		}
		if fail, failed := ctl.takeFailure(); failed {
			return fail
		}
		if done {
			return nil
		}
	}
}

// driveProcessor advances a transformation or sink instance: consume
// elements FIFO, align on barriers (flush, snapshot, ack, forward), and
// finish when the upstream link closes. A nil out marks the sink; its
// barrier ack is the last one, which commits the round.
func (x *Executor) driveProcessor(ctx context.Context, name Name, index int, inst Instance, ctl *controlPlane, in *link, out *link) error {
	var em Emitter = discardEmitter{}
	if out != nil {
		em = linkEmitter{l: out}
		defer out.close()
	}
	for {
		var elem Element
		var open bool
		select {
		case elem, open = <-in.ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !open {
			if f, ok := inst.(finisher); ok {
				if err := f.Finish(ctx, em); err != nil {
					return WrapError(CodeRuntime, name, err)
				}
			}
			if fail, failed := ctl.takeFailure(); failed {
				return fail
			}
			return nil
		}
		switch elem.tag {
		case elemSlice:
			ep, ok := inst.(EventProcessor)
			if !ok {
				return Errorf(CodeKindMismatch, "operator %q cannot consume events", name)
			}
			x.metrics.Counter(ExecutorSlicesTotal).Inc()
			if err := ep.Process(ctx, elem.slice, em); err != nil {
				return WrapError(CodeRuntime, name, err)
			}
		case elemChunk:
			cp, ok := inst.(ChunkProcessor)
			if !ok {
				return Errorf(CodeKindMismatch, "operator %q cannot consume bytes", name)
			}
			x.metrics.Counter(ExecutorChunksTotal).Inc()
			if err := cp.ProcessChunk(ctx, elem.chunk, em); err != nil {
				return WrapError(CodeRuntime, name, err)
			}
		case elemBarrier:
			// Alignment: everything derived from pre-barrier input leaves
			// first, then the snapshot, then the barrier moves on.
			if f, ok := inst.(flusher); ok {
				if err := f.Flush(ctx, em); err != nil {
					return WrapError(CodeRuntime, name, err)
				}
			}
			state, err := snapshotState(inst)
			if err != nil {
				x.log.WithError(err).WithField("operator", name).Warn("state snapshot failed")
			} else {
				elem.barrier.Ack(index, state)
			}
			if out != nil {
				if err := out.send(ctx, elem); err != nil {
					return err
				}
			}
		}
		if fail, failed := ctl.takeFailure(); failed {
			return fail
		}
	}
}

// recoverToError converts an operator panic into a runtime error so one
// misbehaving operator cannot take down the process.
func recoverToError(err *error, name Name) {
	if r := recover(); r != nil {
		*err = Errorf(CodeRuntime, "operator %q panicked: %v", name, r)
	}
}
