// Package runtime implements the Stage Runtime from spec.md §4.4-§4.5:
// the execute()/prepareBroadcast() protocol that fans a stage's children
// out to a shared pool, applies the adaptive rewriters once their
// statistics land, determines reducer counts, and finally runs the
// stage itself.
package runtime

import "golang.org/x/sync/semaphore"

// stagePoolWeight stands in for "unbounded": spec.md §5 calls for a
// single process-wide, daemonized, unbounded-cached thread pool named
// adaptive-query-stage-pool. golang.org/x/sync/semaphore.Weighted gives
// every fan-out call a shared permit pool without Go's goroutines ever
// needing their own dedicated worker threads; a weight this large is
// never exhausted by any real query's fan-out width.
const stagePoolWeight = 1 << 30

// stagePool is the process-wide adaptive-query-stage-pool: every Engine
// in the process acquires permits from the same semaphore before
// submitting a child-stage preparation, matching spec.md §5's "shared
// across all queries in the process".
var stagePool = semaphore.NewWeighted(stagePoolWeight)
