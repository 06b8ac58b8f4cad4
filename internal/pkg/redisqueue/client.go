package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	KeyJobQueue        = "caskwatch:queue:jobs"
	KeyProcessingQueue = "caskwatch:queue:jobs:processing"
	KeyResultQueue     = "caskwatch:queue:results"
	KeyJobPendingSet   = "caskwatch:queue:jobs:pending" // 去重集合
	KeyJobStartedHash  = "caskwatch:queue:jobs:started" // 任务开始处理时间 (job_id -> unix timestamp)
)

var (
	ErrNoJob     = errors.New("no job available")
	ErrNoResult  = errors.New("no result available")
	ErrJobExists = errors.New("job already in queue") // 同一站点已在队列中
)

// Client wraps Redis List operations for the scrape job/result queues.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a redisqueue client with address/password.
func NewClient(addr, password string) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

// NewClientWithRedis creates a redisqueue client from an existing redis.Client.
func NewClientWithRedis(rdb *redis.Client) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &Client{rdb: rdb}, nil
}

// pushJobScript 原子性地执行 SADD + LPUSH，避免中间状态不一致。
// KEYS[1] = pending set, KEYS[2] = job queue
// ARGV[1] = job_id, ARGV[2] = job JSON
// 返回: 1 = 成功推送, 0 = 任务已存在
var pushJobScript = redis.NewScript(`
	local added = redis.call('SADD', KEYS[1], ARGV[1])
	if added == 0 then
		return 0
	end
	redis.call('LPUSH', KEYS[2], ARGV[2])
	return 1
`)

// PushJob serializes a ScrapeJob and pushes it into the job queue.
// 使用 Lua 脚本原子执行 SADD + LPUSH，确保一致性。
// 如果同一站点的任务已在队列中，返回 ErrJobExists。
func (c *Client) PushJob(ctx context.Context, job *ScrapeJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if job.JobID == "" {
		return errors.New("job id is empty")
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	result, err := pushJobScript.Run(ctx, c.rdb,
		[]string{KeyJobPendingSet, KeyJobQueue},
		job.JobID, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("push job script: %w", err)
	}

	if result == 0 {
		return ErrJobExists
	}
	return nil
}

// PopJob blocks until a job is available or timeout is reached.
// 同时记录任务开始处理的时间到 KeyJobStartedHash。
func (c *Client) PopJob(ctx context.Context, timeout time.Duration) (*ScrapeJob, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	result, err := c.rdb.BRPopLPush(ctx, KeyJobQueue, KeyProcessingQueue, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("brpoplpush job: %w", err)
	}

	var job ScrapeJob
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	// 记录任务开始处理的时间（用于 Janitor 判断超时）
	if job.JobID != "" {
		c.rdb.HSet(ctx, KeyJobStartedHash, job.JobID, time.Now().Unix())
	}
	return &job, nil
}

// PushResult serializes a ScrapeResult and pushes it into the result queue.
func (c *Client) PushResult(ctx context.Context, res *ScrapeResult) error {
	if res == nil {
		return errors.New("result is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.rdb.LPush(ctx, KeyResultQueue, string(data)).Err(); err != nil {
		return fmt.Errorf("lpush result: %w", err)
	}
	return nil
}

// PopResult blocks until a result is available or timeout is reached.
func (c *Client) PopResult(ctx context.Context, timeout time.Duration) (*ScrapeResult, error) {
	if c == nil || c.rdb == nil {
		return nil, errors.New("redis client is not initialized")
	}
	result, err := c.rdb.BRPop(ctx, timeout, KeyResultQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("brpop result: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid brpop response: %v", result)
	}

	var res ScrapeResult
	if err := json.Unmarshal([]byte(result[1]), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

// ackJobScript 原子性地从 processing queue 中找到并删除匹配 job_id 的任务。
// KEYS[1] = processing queue, KEYS[2] = pending set, KEYS[3] = started hash
// ARGV[1] = job_id
// 返回: 删除的任务数量
var ackJobScript = redis.NewScript(`
	local queue = KEYS[1]
	local pending = KEYS[2]
	local started = KEYS[3]
	local jobId = ARGV[1]

	-- 遍历 processing queue 找到匹配的任务
	local jobs = redis.call('LRANGE', queue, 0, -1)
	local removed = 0
	for _, job in ipairs(jobs) do
		-- 检查 JSON 中是否包含该 job_id
		if string.find(job, '"job_id":"' .. jobId .. '"', 1, true) then
			redis.call('LREM', queue, 1, job)
			removed = removed + 1
			break
		end
	end

	-- 从 pending set 和 started hash 中移除
	redis.call('SREM', pending, jobId)
	redis.call('HDEL', started, jobId)

	return removed
`)

// AckJob removes a processed job from the processing queue, pending set, and started hash.
// 使用 job_id 匹配而非完整 JSON，避免序列化差异导致的匹配失败。
// 这允许该站点在下一个调度周期被重新推送。
func (c *Client) AckJob(ctx context.Context, job *ScrapeJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if c == nil || c.rdb == nil {
		return errors.New("redis client is not initialized")
	}
	if job.JobID == "" {
		return errors.New("job id is empty")
	}

	_, err := ackJobScript.Run(ctx, c.rdb,
		[]string{KeyProcessingQueue, KeyJobPendingSet, KeyJobStartedHash},
		job.JobID,
	).Int()
	if err != nil {
		return fmt.Errorf("ack job script: %w", err)
	}
	return nil
}

// QueueDepth returns the current length of job and result queues.
func (c *Client) QueueDepth(ctx context.Context) (int64, int64, error) {
	if c == nil || c.rdb == nil {
		return 0, 0, errors.New("redis client is not initialized")
	}
	jobs, err := c.rdb.LLen(ctx, KeyJobQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen jobs: %w", err)
	}
	results, err := c.rdb.LLen(ctx, KeyResultQueue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen results: %w", err)
	}
	return jobs, results, nil
}

// PendingSetSize returns the number of unique jobs currently pending.
func (c *Client) PendingSetSize(ctx context.Context) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}
	size, err := c.rdb.SCard(ctx, KeyJobPendingSet).Result()
	if err != nil {
		return 0, fmt.Errorf("scard pending set: %w", err)
	}
	return size, nil
}

// rescueScript 是用于原子性 rescue 任务的 Lua 脚本。
// 只有当 LREM 成功移除了任务时，才执行 LPUSH，防止多个 Janitor 重复添加。
// 同时清理 started hash 中的记录。
// KEYS[1] = processing queue, KEYS[2] = job queue, KEYS[3] = started hash
// ARGV[1] = job JSON, ARGV[2] = job_id
// 返回: 1 = 成功 rescue, 0 = 任务不存在
var rescueScript = redis.NewScript(`
	local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
	if removed > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
		redis.call('HDEL', KEYS[3], ARGV[2])
		return 1
	end
	return 0
`)

// RescueStuckJobs scans the processing queue and requeues jobs that exceed timeout.
// 使用 KeyJobStartedHash 中记录的开始时间来判断超时，而非任务的 CreatedAt。
// 使用 Lua 脚本确保原子性，防止多个 Janitor 同时处理同一任务导致重复入队。
func (c *Client) RescueStuckJobs(ctx context.Context, timeout time.Duration) (int, error) {
	if c == nil || c.rdb == nil {
		return 0, errors.New("redis client is not initialized")
	}

	startedTimes, err := c.rdb.HGetAll(ctx, KeyJobStartedHash).Result()
	if err != nil {
		return 0, fmt.Errorf("hgetall started: %w", err)
	}
	if len(startedTimes) == 0 {
		return 0, nil
	}

	jobsRaw, err := c.rdb.LRange(ctx, KeyProcessingQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lrange processing: %w", err)
	}
	if len(jobsRaw) == 0 {
		// processing queue 为空，但 started hash 有记录，清理孤立记录
		for jobID := range startedTimes {
			c.rdb.HDel(ctx, KeyJobStartedHash, jobID)
		}
		return 0, nil
	}

	now := time.Now().Unix()
	threshold := int64(timeout.Seconds())
	rescued := 0

	for _, raw := range jobsRaw {
		var job ScrapeJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if job.JobID == "" {
			continue
		}

		startedStr, ok := startedTimes[job.JobID]
		if !ok {
			// 没有记录开始时间，使用 CreatedAt 作为后备
			if job.CreatedAt == 0 {
				continue
			}
			if now-job.CreatedAt <= threshold {
				continue
			}
		} else {
			var started int64
			if _, err := fmt.Sscanf(startedStr, "%d", &started); err != nil {
				continue
			}
			if now-started <= threshold {
				continue
			}
		}

		// 只有 LREM 成功时才 LPUSH
		result, err := rescueScript.Run(ctx, c.rdb,
			[]string{KeyProcessingQueue, KeyJobQueue, KeyJobStartedHash},
			raw, job.JobID,
		).Int()
		if err != nil {
			continue
		}
		if result == 1 {
			rescued++
		}
	}

	return rescued, nil
}
