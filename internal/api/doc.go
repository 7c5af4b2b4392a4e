// Package api handles incoming HTTP requests for task submission and
// inspection. It translates HTTP concerns to runner and state store calls
// and maps their errors to status codes without leaking internal details.
package api
