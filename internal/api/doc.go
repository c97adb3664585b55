// Package api exposes the daemon's HTTP surface: record listing and
// inspection, pipeline start and retry actions, and progress delivery by
// poll or websocket push. The CLI is its primary consumer.
package api
