package bodies

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/op-harness/types"
)

// RedisPing sends PING to a redis resource of the environment.
type RedisPing struct {
	Resource string
}

var _ types.TestBody = (*RedisPing)(nil)

// Run implements types.TestBody.
func (r *RedisPing) Run(ctx context.Context, env types.Environment) error {
	res, ok := env.Resource(r.Resource)
	if !ok {
		return fmt.Errorf("environment has no resource %q", r.Resource)
	}
	if res.Kind != types.ResourceRedis {
		return fmt.Errorf("resource %q is a %s, not redis", r.Resource, res.Kind)
	}

	client := redis.NewClient(&redis.Options{Addr: res.Addr})
	defer client.Close()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis %s ping failed: %w", res.Addr, err)
	}
	if pong != "PONG" {
		return fmt.Errorf("redis %s ping: unexpected reply %q", res.Addr, pong)
	}
	return nil
}
