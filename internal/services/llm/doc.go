// Package llm wraps an OpenRouter-style chat completion API for the
// timestamp-extraction and summarize stages. The client performs exactly
// one request per call and tags failures for the queue's retry policy;
// there is no internal retry loop.
package llm
