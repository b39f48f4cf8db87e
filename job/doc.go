// Package job defines the job entity, state machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [portal.Entity] for
// timestamps, carries a typed payload (JSON), and progresses through a
// state machine:
//
//	waiting → active → completed
//	waiting → active → waiting → active → ...   (retry with backoff)
//	waiting → active → failed
//	waiting → active → dead_lettered
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - Attempt / MaxAttempts: executions so far vs. the total budget
//   - RunAt: earliest time the job may be dequeued
//   - Timeout: per-job execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var VerifyDocuments = job.NewDefinition("verify-documents",
//	    func(ctx context.Context, input VerifyInput) error {
//	        return verifier.Check(ctx, input.ApplicationID)
//	    },
//	    job.WithQueue("document-verification"),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, VerifyDocuments)
//	job.RegisterDefinition(registry, CreatePayment)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
