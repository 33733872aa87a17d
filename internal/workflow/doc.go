// Package workflow runs the crawl-and-submit pipeline as a sequence of named
// durable steps. Each step result is checkpointed through a StepRunner before
// the next step starts, so a resumed run replays completed steps instead of
// repeating their side effects.
package workflow
