// Package crawler holds the crawl pipeline building blocks that sit around the
// robots and redirect cores: the per-host robots.txt enforcer, the redirect
// follower, seed planning, politeness helpers, retry policy and result sinks.
package crawler
