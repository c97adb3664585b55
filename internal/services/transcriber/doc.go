// Package transcriber wraps an OpenAI-compatible /audio/transcriptions
// endpoint. The client performs exactly one request per call; redelivery
// after transient provider failures is the job queue's responsibility, so
// errors are tagged with the services markers the queue classifies on.
package transcriber
