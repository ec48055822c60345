package mcts

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/temposearch/tempo/nn"
	"github.com/temposearch/tempo/storage"
)

// WorkCoordinator hands out batches of work items (games to generate, or one
// search) to workers and lets the controller wait for quiescence. Stop is
// advisory: workers poll at simulation-batch boundaries and in-flight
// predictions complete.
type WorkCoordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	workerCount        int
	idleWorkers        int
	workItemsRemaining int
	shutdown           bool
}

func NewWorkCoordinator(workerCount int) *WorkCoordinator {
	c := &WorkCoordinator{workerCount: workerCount, idleWorkers: workerCount}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ResetWorkItemsRemaining publishes a new batch of work and wakes workers.
func (c *WorkCoordinator) ResetWorkItemsRemaining(count int) {
	c.mu.Lock()
	c.workItemsRemaining = count
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WaitForWorkItems parks the worker until work exists, returning false on
// shutdown.
func (c *WorkCoordinator) WaitForWorkItems() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.workItemsRemaining <= 0 && !c.shutdown {
		c.cond.Wait()
	}
	if c.shutdown {
		return false
	}
	c.idleWorkers--
	return true
}

// OnWorkItemCompleted retires one work item.
func (c *WorkCoordinator) OnWorkItemCompleted() {
	c.mu.Lock()
	if c.workItemsRemaining > 0 {
		c.workItemsRemaining--
	}
	done := c.workItemsRemaining <= 0
	c.mu.Unlock()
	if done {
		c.cond.Broadcast()
	}
}

// OnWorkerIdle reports this worker has drained its slots for the current
// batch; the controller's WaitForWorkers unblocks once all workers have.
func (c *WorkCoordinator) OnWorkerIdle() {
	c.mu.Lock()
	c.idleWorkers++
	c.mu.Unlock()
	c.cond.Broadcast()
}

// AllWorkItemsCompleted polls whether the current batch is done.
func (c *WorkCoordinator) AllWorkItemsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workItemsRemaining <= 0
}

// StopAll retires the rest of the batch, ending the current run at the next
// poll.
func (c *WorkCoordinator) StopAll() {
	c.mu.Lock()
	c.workItemsRemaining = 0
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WaitForWorkers blocks the controller until every worker has gone idle
// after finishing the batch, the quiescence barrier between stages.
func (c *WorkCoordinator) WaitForWorkers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !(c.workItemsRemaining <= 0 && c.idleWorkers == c.workerCount) {
		c.cond.Wait()
	}
}

// ShutDown releases every parked worker permanently.
func (c *WorkCoordinator) ShutDown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WorkerLoop is the body a WorkerGroup runs on each worker, typically one of
// SelfPlayWorker's Loop methods.
type WorkerLoop func(worker *SelfPlayWorker, coordinator *WorkCoordinator, network nn.Network, networkType nn.NetworkType, primary bool)

// WorkerGroup owns a fixed pool of search workers plus a controller-side
// worker used for setup tasks, mirroring one group per network type.
type WorkerGroup struct {
	SearchState      *SearchState
	Coordinator      *WorkCoordinator
	ControllerWorker *SelfPlayWorker
	Workers          []*SelfPlayWorker

	group *errgroup.Group
}

// NewWorkerGroup wires workers onto the given loop and starts them. The
// controller worker shares the search state but runs no loop.
func NewWorkerGroup(store *storage.Storage, searchState *SearchState, network nn.Network, networkType nn.NetworkType,
	workerCount, workerParallelism int, seed int64, logger zerolog.Logger, loop WorkerLoop) *WorkerGroup {

	wg := &WorkerGroup{
		SearchState:      searchState,
		Coordinator:      NewWorkCoordinator(workerCount),
		ControllerWorker: NewSelfPlayWorker(nil, searchState, 1, seed, logger),
		group:            new(errgroup.Group),
	}
	for i := 0; i < workerCount; i++ {
		worker := NewSelfPlayWorker(store, searchState, workerParallelism, seed+int64(i)+1,
			logger.With().Int("worker", i).Logger())
		wg.Workers = append(wg.Workers, worker)

		primary := i == 0
		wg.group.Go(func() error {
			loop(worker, wg.Coordinator, network, networkType, primary)
			return nil
		})
	}
	return wg
}

// ShutDown stops the workers and waits for them to exit.
func (wg *WorkerGroup) ShutDown() {
	wg.Coordinator.ShutDown()
	_ = wg.group.Wait()
}
