// Package client talks to a passvault server.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface): Do sends
//     one command and returns the server's response.
//  2. A TCP implementation (see TCPClient) that keeps one connection open,
//     writes newline-delimited JSON requests and reads exactly one response
//     per request.
//
// # Error Handling
//
// Transport problems are reported as ErrUnavailable. A well-formed response
// with status false is returned by Call as ErrRejected, wrapped together with
// the server's description.
//
// # Concurrency and Contexts
//
// A TCPClient serialises its callers, since the protocol does not pipeline.
// Cancelling the context interrupts a call waiting on the connection.
package client
