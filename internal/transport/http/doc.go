// Package http contains the chi handlers for the public storefront surface,
// the trusted payment webhook and the admin back office. Handlers decode and
// validate input, delegate to the services layer and translate domain errors
// into RFC 7807 problem responses; they hold no business rules of their own.
package http
