// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package web exposes the credential flows over HTTP.
//
// Routes accept form-encoded email and password fields and answer in JSON.
// The session token travels in a cookie; every artifact the session manager
// produces is written back to the client, replacing any earlier value for
// the same cookie in the response.
package web
