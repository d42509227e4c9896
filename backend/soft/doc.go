// Package soft provides software backends that run Ops on goroutines in the
// host process.
//
// Ordered queues have a single worker goroutine draining a FIFO, so work
// completes in submission order. Unordered queues start one goroutine per Op,
// gated only by its wait list, and bound concurrent execution with a weighted
// semaphore.
//
//	dev := soft.NewDevice("cpu0", backend.DeviceCPU, soft.WithWorkers(4))
//	q, _ := dev.NewQueue(backend.KindCompute, backend.OutOfOrder)
//	tok, _ := q.Enqueue(op, nil)
//	backend.Wait(ctx, tok)
package soft
