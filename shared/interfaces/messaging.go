package interfaces

import (
	"context"

	"worldvote/shared/models"
)

// ResultPublisher emits resolved outcomes to downstream consumers
// (scenario text, rendering, announcements). Delivery is best-effort.
//
//go:generate mockery --name ResultPublisher --output ./mocks --outpkg mocks --case=underscore
type ResultPublisher interface {
	PublishVoteResult(ctx context.Context, event models.VoteResultEvent) error
}

// ResultArchive durably stores resolved outcomes and world transitions.
//
//go:generate mockery --name ResultArchive --output ./mocks --outpkg mocks --case=underscore
type ResultArchive interface {
	ArchiveResult(ctx context.Context, result models.VoteResult, entry *models.WorldHistoryEntry) error
}
