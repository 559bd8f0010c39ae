// Package admin exposes the delivery engine over HTTP.
//
// The router wraps a queue.Service and serves JSON endpoints for enqueueing
// notifications, inspecting and controlling jobs, bulk sends, digests and
// dispatcher pause/resume. Every answer uses the same envelope:
//
//	{"data": ..., "meta": ..., "error": {"code": "...", "message": "...", "details": {...}}}
//
// Error codes are validation_error (422), not_found (404), state_conflict
// (409), bad_request (400) and internal_error (500).
package admin
