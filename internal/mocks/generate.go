// Package mocks provides mock implementations for testing the countysync job
// system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the store and identity contracts. The mocks are generated using go:generate
// directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockStore := mocks.NewMockJobStore(ctrl)
//	mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobStore interface from internal/core package.
// This creates MockJobStore with methods for all JobStore interface methods:
// Create, Get, UpdateStatus, List
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/countyops/countysync/internal/core JobStore

// Generate mock for LeaseReaper interface from internal/core package.
// This creates MockLeaseReaper with methods for all LeaseReaper interface methods:
// ExpireOverdue
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=lease_reaper_mock.go github.com/countyops/countysync/internal/core LeaseReaper

// Generate mock for IdentityResolver interface from internal/ports package.
// This creates MockIdentityResolver with methods for all IdentityResolver interface methods:
// Resolve
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=identity_resolver_mock.go github.com/countyops/countysync/internal/ports IdentityResolver
