// Package main hosts the jobradar service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, crawl triggers, run
//     history, and duplicate statistics. Crawls run synchronously with ?wait=1 or
//     detach into the background with a 202 response.
//   - Orchestrator: internal/orchestrator fans a full crawl out across all
//     registered boards in parallel. Each source runs in isolation; a panic or
//     failure in one never touches the others.
//   - Fetch pipeline: internal/fetch escalates through direct HTTP (Colly),
//     stealth headless Chrome (Chromedp), an external FlareSolverr-compatible
//     solver, and finally a human-assisted interactive browser. The challenge
//     detector decides when to escalate.
//   - Dedup engine: internal/dedup checks native ID, canonical URL, content hash,
//     and a fuzzy title/company match before accepting a posting. Accepted
//     postings are indexed for search and inserted with the database unique
//     constraints as the final arbiter.
//   - Persistence & fanout: postings and run history live in Postgres (or memory
//     for local runs), raw listing pages are archived to GCS or disk, the search
//     index is Marqo, and accepted postings are announced on Pub/Sub. Redis
//     optionally caches fingerprints to skip repeat dedup work.
//   - Configuration & plumbing: Viper populates config from env/files with the
//     JOBRADAR prefix; zap provides structured logging; Prometheus metrics are
//     exported via /metrics; robfig/cron drives recurring full crawls.
//
// Operational notes:
//   - Concurrency model: one goroutine per source during a full crawl, a
//     semaphore bounding parallel headless sessions, and a single writer per
//     crawl job handle. Shutdown is coordinated through context cancellation.
//   - Run tracking: every crawl is a step-by-step job record, queryable while
//     running and after completion. Jobs that outlive the abandon budget are
//     flagged but allowed to finish.
//
// Run locally: go run ./cmd/jobradar -config config.yaml (or rely solely on
// JOBRADAR_* env overrides).
package main
