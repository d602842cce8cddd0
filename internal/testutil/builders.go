package testutil

import (
	"fmt"

	"github.com/target/docflow/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req model.CreateJobRequest
}

// NewJobRequest creates a classify request for one file owned by nobody.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: model.CreateJobRequest{
			EndpointType: model.EndpointClassify,
			TotalFiles:   1,
		},
	}
}

// WithEndpoint sets the pipeline the job runs.
func (b *JobRequestBuilder) WithEndpoint(kind model.EndpointType) *JobRequestBuilder {
	b.req.EndpointType = kind
	return b
}

// WithFiles sets the declared file count.
func (b *JobRequestBuilder) WithFiles(n int) *JobRequestBuilder {
	b.req.TotalFiles = n
	return b
}

// WithOwner sets the owning user.
func (b *JobRequestBuilder) WithOwner(owner string) *JobRequestBuilder {
	b.req.UserID = &owner
	return b
}

// WithDocument sets the caller supplied document and batch ids.
func (b *JobRequestBuilder) WithDocument(documentID, batchID string) *JobRequestBuilder {
	b.req.DocumentID = &documentID
	b.req.BatchID = &batchID
	return b
}

// Ready creates the job directly in READY, skipping the upload phase.
func (b *JobRequestBuilder) Ready() *JobRequestBuilder {
	b.req.InitialStatus = model.JobStatusReady
	return b
}

// Build returns a copy of the request.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	req := b.req
	return &req
}

// FileReferences returns n text references under jobID's blob prefix.
func FileReferences(jobID string, n int) []model.FileReference {
	refs := make([]model.FileReference, n)
	for i := range refs {
		size := int64(100 + i)
		name := fmt.Sprintf("doc-%d.txt", i)
		refs[i] = model.FileReference{
			Filename: name,
			Locator:  jobID + "/" + name,
			Suffix:   ".txt",
			Size:     &size,
		}
	}
	return refs
}
