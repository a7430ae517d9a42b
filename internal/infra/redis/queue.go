package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// popScript returns expired leases to the head of the queue, then moves
// the oldest waiting job into the in-flight set under a new lease.
// KEYS: queue, inflight. ARGV: now ms, lease deadline ms.
var popScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], 0, id)
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[2], popped[1])
return popped[1]
`)

// PushJob enqueues an encoded job spec. Jobs pop in submission order.
func (c *Client) PushJob(ctx context.Context, queue, id string, spec []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.specKey(id), spec, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job spec: %w", err)
	}
	score := float64(time.Now().UnixMilli())
	if err := c.rdb.ZAdd(ctx, c.queueKey(queue), redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopJob takes the oldest job and leases it for lease. A job whose lease
// runs out before CompleteJob or RequeueJob goes back to the head of the
// queue on a later pop, so a crashed worker loses nothing. found is false
// when the queue is empty. Members whose spec expired are dropped.
func (c *Client) PopJob(ctx context.Context, queue string, lease time.Duration) (id string, spec []byte, found bool, err error) {
	keys := []string{c.queueKey(queue), c.inflightKey(queue)}
	for {
		now := time.Now()
		id, err := popScript.Run(ctx, c.rdb, keys, now.UnixMilli(), now.Add(lease).UnixMilli()).Text()
		if errors.Is(err, redis.Nil) {
			return "", nil, false, nil
		}
		if err != nil {
			return "", nil, false, fmt.Errorf("pop job failed: %w", err)
		}

		spec, err := c.rdb.Get(ctx, c.specKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			_ = c.rdb.ZRem(ctx, c.inflightKey(queue), id).Err()
			continue
		}
		if err != nil {
			return "", nil, false, fmt.Errorf("get job spec failed: %w", err)
		}
		return id, spec, true, nil
	}
}

// ExtendLease pushes an in-flight job's lease deadline out to now+lease.
func (c *Client) ExtendLease(ctx context.Context, queue, id string, lease time.Duration) error {
	deadline := float64(time.Now().Add(lease).UnixMilli())
	return c.rdb.ZAddXX(ctx, c.inflightKey(queue), redis.Z{Score: deadline, Member: id}).Err()
}

// RequeueJob releases the lease and puts the job back at the head of the
// queue.
func (c *Client) RequeueJob(ctx context.Context, queue, id string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, c.inflightKey(queue), id)
		pipe.ZAdd(ctx, c.queueKey(queue), redis.Z{Score: 0, Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue failed: %w", err)
	}
	return nil
}

// CompleteJob releases the lease and removes the job spec.
func (c *Client) CompleteJob(ctx context.Context, queue, id string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, c.inflightKey(queue), id)
		pipe.Del(ctx, c.specKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

// QueueDepth returns the number of waiting and leased jobs.
func (c *Client) QueueDepth(ctx context.Context, queue string) (waiting, leased int64, err error) {
	pipe := c.rdb.Pipeline()
	w := pipe.ZCard(ctx, c.queueKey(queue))
	l := pipe.ZCard(ctx, c.inflightKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("zcard failed: %w", err)
	}
	return w.Val(), l.Val(), nil
}

// RequestCancel flags a job for cancellation on whichever worker owns it.
func (c *Client) RequestCancel(ctx context.Context, id string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.cancelKey(id), "1", ttl).Err()
}

// CancelRequested reports whether a job was flagged for cancellation.
func (c *Client) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.cancelKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n > 0, nil
}
