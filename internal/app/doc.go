// Package app assembles the application: configuration, logging, telemetry,
// storage, services and the HTTP server, wired in dependency order and torn
// down in reverse on shutdown.
package app
