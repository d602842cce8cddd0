// Package mocks provides mock implementations of the docflow ports.
//
// This package uses go.uber.org/mock (gomock). Mocks are generated from the interfaces in
// internal/core; regenerate them after an interface change with:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().Claim(gomock.Any(), "job-1").Return(job, true, nil)
package mocks

// JobRepository: Create, Get, Update, UpdateIf, Claim, ListClaimable, ListByOwner, WriteFileReferences,
// ResetFailed, Delete, ReclaimStale, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/target/docflow/internal/core JobRepository

// BlobStore: Upload, SignedURL, Download, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=blob_store_mock.go github.com/target/docflow/internal/core BlobStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ready_publisher_mock.go github.com/target/docflow/internal/core ReadyPublisher

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=rate_limiter_mock.go github.com/target/docflow/internal/core RateLimiter

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_retention_mock.go github.com/target/docflow/internal/core JobRetention
