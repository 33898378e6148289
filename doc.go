// Package aqse contains the core components of the Adaptive Query Stage
// Engine: a runtime that splits a physical query plan into stages,
// executes each stage, and uses the actual shuffle output statistics of
// completed stages to optimize the remaining plan before materializing
// downstream stages. This root package documents the pipeline; concrete
// components live in the plan, config, errors, rangemodel, coordinator,
// rewrite, events, collab, stage, runtime and planner subpackages.
package aqse
