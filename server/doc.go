// Package server exposes the engine over HTTP.
//
// Responses use a uniform JSON envelope: {"success": bool, "data": ...} on
// success, {"success": false, "error": "..."} on failure. Ingest requests
// are rate limited per remote address.
package server
