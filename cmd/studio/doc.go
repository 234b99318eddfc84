// Package main hosts the orchestration service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job control
//     (run/status/cancel), schedule management, and webhook test endpoints.
//   - Scheduler & queue: the scheduler loop scans for due schedules every
//     tick, acquires the per-project lock via a conditional store update,
//     advances next_run before the job starts, and hands job requests to a
//     bounded in-memory queue consumed by a fixed runner pool.
//   - Job pipeline: each runner executes one job's targets sequentially,
//     resolving URLs into content items through the Colly-based resolver,
//     sending every item to the external sentiment engine, and persisting
//     analyzed results incrementally. Partial target failures do not fail the
//     job; a job fails only when no target succeeds.
//   - Webhooks: terminal job events fan out to subscriber endpoints with
//     HMAC-signed payloads. Every delivery is recorded in a durable ledger;
//     a sweeper retries failed deliveries with jittered exponential backoff
//     until the attempt cap marks them exhausted.
//   - Configuration & plumbing: Viper populates config from env/files (prefix
//     STUDIO); zap provides structured logging; Prometheus metrics are served
//     on /metrics; job lifecycle events can optionally be mirrored to a
//     Pub/Sub topic.
//
// Operational notes:
//   - Exclusivity: the project lock lives in the store, so multiple service
//     instances can run the scheduler loop concurrently without double runs.
//   - Shutdown: SIGTERM cancels the root context; the scheduler, pool,
//     sweeper, and reaper drain via context propagation before the HTTP
//     server closes.
//   - Run locally: go run ./cmd/studio -config config.yaml (or rely solely
//     on STUDIO_* env overrides with the in-memory store).
package main
