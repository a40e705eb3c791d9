// Package status implements the Status & Job Queue side channel (ADDED):
// a Redis-backed progress reporter and an optional job queue that lets a
// daemon-mode nrf-dfu process accept update requests without polling. It
// is pure side channel — nothing here is read back to resume a DFU
// session; that state lives only in the device itself, per §4.5/§4.6.
//
// Grounded on pkg/redis/client.go's HSet/Publish/BRPop wrapper and
// pkg/service/redis_handlers.go's one-goroutine-per-subscription shape.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/robbym/nrf-dfu/pkg/archive"
	"github.com/robbym/nrf-dfu/pkg/updater"
)

// StatusKey is the Redis hash (and pub/sub channel) progress is written to.
const StatusKey = "nrf-dfu"

// JobQueueKey is the Redis list JobRequests are pushed to and popped from.
const JobQueueKey = "nrf-dfu:jobs"

// Client wraps a go-redis client with the HSet+Publish and BRPOP patterns
// this package needs, mirroring pkg/redis.Client's shape.
type Client struct {
	rdb *redis.Client
	ctx context.Context
}

// NewClient connects to addr and verifies reachability with a Ping, per
// pkg/redis.New.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("status: connect to redis at %s: %w", addr, err)
	}
	return &Client{rdb: rdb, ctx: ctx}, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// writeAndPublish sets field on StatusKey and publishes the change, as one
// pipelined round trip.
func (c *Client) writeAndPublish(field, value string) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(c.ctx, StatusKey, field, value)
	pipe.Publish(c.ctx, StatusKey, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// ReportState publishes a coarse session state under the "state" field.
func (c *Client) ReportState(state string) error {
	return c.writeAndPublish("state", state)
}

// ReportError publishes a terminal error message under the "error" field.
func (c *Client) ReportError(err error) error {
	return c.writeAndPublish("error", err.Error())
}

// ImageStarted implements updater.Reporter, naming the image under way
// under the "image" field and publishing "transferring" as the state.
func (c *Client) ImageStarted(role archive.Role) {
	_ = c.writeAndPublish("image", string(role))
	_ = c.ReportState("transferring")
}

// ImageDone implements updater.Reporter, marking the current image
// complete. The "image" field is left as-is so the last-transferred image
// stays visible until the next ImageStarted overwrites it.
func (c *Client) ImageDone(role archive.Role) {
	_ = c.writeAndPublish("progress", fmt.Sprintf("%s done", role))
}

// SessionDone implements updater.Reporter, publishing the final summary
// and duration under "state"/"progress" once the whole session succeeds.
func (c *Client) SessionDone(result updater.UpdateResult) {
	_ = c.ReportState("done")
	_ = c.writeAndPublish("progress", fmt.Sprintf("%s in %s", result.BundleSummary, result.Duration))
}

// SessionFailed implements updater.Reporter, publishing the terminal error
// under "state"/"error" once the session aborts.
func (c *Client) SessionFailed(err error) {
	_ = c.ReportState("failed")
	_ = c.ReportError(err)
}

var _ updater.Reporter = (*Client)(nil)

// JobRequest is the CBOR envelope a daemon-mode process reads off
// JobQueueKey: a path to a firmware archive and the session options that
// would otherwise come from CLI flags.
type JobRequest struct {
	ArchivePath string `cbor:"archive_path"`
	PRN         uint16 `cbor:"prn"`
	Force       bool   `cbor:"force"`
	DeviceName  string `cbor:"device_name"`
}

// PushJob CBOR-encodes req and LPUSHes it onto JobQueueKey, per
// pkg/redis.Client.LPush.
func (c *Client) PushJob(req JobRequest) error {
	data, err := cbor.Marshal(req)
	if err != nil {
		return fmt.Errorf("status: encode job: %w", err)
	}
	return c.rdb.LPush(c.ctx, JobQueueKey, data).Err()
}

// NextJob blocks up to timeout for a job to arrive on JobQueueKey, per
// pkg/redis.Client.BRPop. A zero timeout blocks indefinitely. It returns
// (nil, nil) on timeout, matching BRPop's convention for the non-error,
// nothing-arrived case.
func (c *Client) NextJob(timeout time.Duration) (*JobRequest, error) {
	result, err := c.rdb.BRPop(c.ctx, timeout, JobQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("status: brpop %s: %w", JobQueueKey, err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("status: unexpected brpop result: %v", result)
	}

	var job JobRequest
	if err := cbor.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("status: decode job: %w", err)
	}
	return &job, nil
}
