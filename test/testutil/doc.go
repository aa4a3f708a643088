// Package testutil provides shared test utilities and fixtures for integration tests.
//
// This package contains common setup code, test data, and helper functions
// that are used across multiple integration tests.
//
// Examples of utilities that belong here:
//   - Common test fixtures (timing-compressed configurations)
//   - Setup helpers (a cluster of controllers sharing one store and feed)
//   - Assertion helpers (every lease owned exactly once, ordered delivery)
//
// Note: For NATS and Redis server setup, use the github.com/arloliu/leasefeed/testing package.
// This package is specifically for integration test scenarios and helper utilities.
package testutil
