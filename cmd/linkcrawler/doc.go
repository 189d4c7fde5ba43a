// Command linkcrawler runs the nested link crawler.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts POST /api/parse, creates a submitted job in the JobStore, and hands the
//     job id to the dispatcher. GET /api/jobs lists jobs newest first with offset/limit paging.
//   - Dispatcher: a fixed number of worker slots (crawler.max_workers) pull job ids from an unbounded FIFO. Submitting
//     never blocks; pending depth is exported as a gauge.
//   - Orchestrator: claims the job atomically (submitted to in_progress), runs the crawl engine, and finalizes the job
//     as done or error. A panic during the crawl still finalizes the job as error.
//   - Crawl engine: fetches the seed page, drops self and fragment links and duplicates, then fetches every remaining
//     link once more and records the links found there. Nested failures are kept per link and never fail the job.
//   - Fetchers: headless Chrome via chromedp by default; a Colly static fetcher for hosts without a browser.
//   - Backends: jobs live in memory, Postgres, SQLite, or Redis. Completion events go to Kafka or Pub/Sub, and result
//     documents can be archived to a local directory, GCS, or S3.
//
// Commands:
//   - serve: run the HTTP service until SIGINT/SIGTERM, then drain in-flight jobs.
//   - crawl <url>: run one crawl in-process and print the result document as JSON.
//   - migrate: apply the Postgres schema.
//
// Configuration is read from an optional YAML file (--config) and CRAWLER_* environment variables, e.g.
// CRAWLER_SERVER_PORT, CRAWLER_STORE_DRIVER, CRAWLER_DB_DSN. MAX_JOB_WORKERS is accepted as an alias of
// CRAWLER_CRAWLER_MAX_WORKERS.
package main
