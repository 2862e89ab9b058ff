package redis

import (
	"context"
	"encoding/json"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
	"github.com/redis/go-redis/v9"
)

const leaderboardChannel = "leaderboard:updates"

// SnapshotRelay fans leaderboard snapshots out over Redis pub/sub so feeds on
// every instance see each change, not only the instance that made it.
type SnapshotRelay struct {
	client *redis.Client
	log    *logger.Logger
}

func NewSnapshotRelay(client *redis.Client, log *logger.Logger) *SnapshotRelay {
	return &SnapshotRelay{client: client, log: log}
}

func (r *SnapshotRelay) Broadcast(ctx context.Context, snap domain.LeaderboardSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, leaderboardChannel, raw).Err()
}

// Run forwards relayed snapshots into feed until ctx is done.
func (r *SnapshotRelay) Run(ctx context.Context, feed *app.Feed) error {
	sub := r.client.Subscribe(ctx, leaderboardChannel)
	defer sub.Close()
	// Wait for the subscription so nothing published after Run returns ready is lost.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var snap domain.LeaderboardSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				r.log.Warn("dropping malformed leaderboard snapshot", "error", err)
				continue
			}
			feed.Publish(snap)
		}
	}
}
