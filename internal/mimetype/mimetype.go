// Package mimetype infers a content type from a filename extension, the
// fixed table used by the artifact-normalization step. No third-party library
// owns this concern — it is a few lines of lookup, kept standard-library
// only — so both ExecutionEngine and JobStore share this one implementation
// rather than each hand-rolling their own table.
package mimetype

import "strings"

// Infer maps a filename extension to its documented mime type, defaulting
// to application/octet-stream for anything unrecognized.
func Infer(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".tiff"), strings.HasSuffix(lower, ".tif"):
		return "image/tiff"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".log"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(lower, ".pvd"), strings.HasSuffix(lower, ".vtk"),
		strings.HasSuffix(lower, ".tet"), strings.HasSuffix(lower, ".obj"),
		strings.HasSuffix(lower, ".step"):
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}
