// Package errors provides the structured error type shared by every
// accessguard package.
//
// Each [Error] carries a [Code] whose category prefix selects the HTTP
// status (AUTH is 401, AUTHZ is 403, RATE is 429, INT is 500). Token
// validation failures use the AUTH family, one code per rejection reason,
// so callers and dashboards can tell an expired token from a key-set
// outage without parsing messages.
//
// [WriteHTTP] renders any error as the uniform JSON document:
//
//	{"error": "unauthorized", "message": "...", "status_code": 401,
//	 "timestamp": "2026-01-02T15:04:05Z", "path": "/api/v1/contratos"}
//
// Import with an alias to avoid clashing with the standard library:
//
//	import sserr "github.com/StricklySoft/accessguard/pkg/errors"
package errors
