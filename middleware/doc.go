// Package middleware adapts net/http requests into idgate authorization
// checks.
//
// [Guard] extracts the client credentials, bearer token, and debug key from
// request headers, calls Engine.BuildReqInfo, and injects the resulting
// *idgate.ReqInfo into the request context. [RequireRoles] and
// [RequireScope] layer coarse authorization on top of a guarded route.
//
// This package translates HTTP semantics into engine calls and nothing
// more: it never parses tokens or touches Redis itself.
package middleware
