// Package article turns a record's summary and transcript into a publishable
// markdown article using the Gemini API.
package article
