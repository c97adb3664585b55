// Package services holds the error taxonomy and context plumbing shared by
// the stage executor clients under services/ and the pipeline that drives
// them.
package services
