package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage on Redis.
//
// Each job is a hash holding the JSON envelope plus the fields the scripts
// mutate (state, attempt, last_attempt_at). Per queue a "scheduled" sorted
// set is scored by DispatchAt and a "ready" set by priority then DispatchAt.
// Scripts promote due jobs and claim the best one atomically.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures RedisStorage
type RedisOption func(*RedisStorage)

// WithRedisPrefix sets the key prefix, "courier" by default
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStorage creates a storage backed by client
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{client: client, prefix: "courier"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hash fields read back from Go; the scripts own the rest
const (
	fieldData          = "data"
	fieldState         = "state"
	fieldQueue         = "queue"
	fieldAttempt       = "attempt"
	fieldLastAttemptAt = "last_attempt_at"
	fieldUpdatedAt     = "updated_at"
)

// claimScript promotes every due job into the ready sets and claims the
// best one. Scheduled entries are ordered by time only, so the whole due
// range has to be promoted before the ready sets can be compared.
// KEYS[1] active set, then (scheduled, ready) pairs per queue.
// ARGV[1] now in ms, ARGV[2] job key prefix, ARGV[3] now as RFC 3339.
// Ready scores are (100-priority)*1e13 + DispatchAt ms, exact in a double.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
for i = 2, #KEYS, 2 do
	repeat
		local due = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', now, 'WITHSCORES', 'LIMIT', 0, 512)
		for j = 1, #due, 2 do
			local id, at = due[j], tonumber(due[j + 1])
			local prio = tonumber(redis.call('HGET', ARGV[2] .. id, 'priority') or '0')
			redis.call('ZREM', KEYS[i], id)
			redis.call('ZADD', KEYS[i + 1], (100 - prio) * 1e13 + at, id)
		end
	until #due < 1024
end

local bestKey, bestId, bestScore
for i = 3, #KEYS, 2 do
	while true do
		local top = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
		if #top == 0 then break end
		local id, score = top[1], tonumber(top[2])
		local f = redis.call('HMGET', ARGV[2] .. id, 'state', 'attempt', 'max_attempts')
		if f[1] ~= 'scheduled' or tonumber(f[2] or '0') >= tonumber(f[3] or '0') then
			redis.call('ZREM', KEYS[i], id)
		else
			if bestScore == nil or score < bestScore then
				bestKey, bestId, bestScore = KEYS[i], id, score
			end
			break
		end
	end
end

if not bestId then return false end

local key = ARGV[2] .. bestId
redis.call('ZREM', bestKey, bestId)
redis.call('HSET', key, 'state', 'dispatching', 'last_attempt_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('HINCRBY', key, 'attempt', 1)
redis.call('ZADD', KEYS[1], now, bestId)
return redis.call('HGETALL', key)
`)

// saveScript creates (ARGV[1] == "") or compare-and-sets a job and
// maintains its index entries.
// KEYS: job, scheduled, ready, active, terminal, queue members.
// ARGV: expected, id, data, state, queue, priority, attempt, max_attempts,
// dispatch_at_ms, last_attempt_at, updated_at, last_attempt_ms, terminal_ms.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if ARGV[1] == '' then
	if cur then return 'exists' end
else
	if not cur then return 'missing' end
	if cur ~= ARGV[1] then return 'conflict:' .. cur end
end

redis.call('HSET', KEYS[1],
	'data', ARGV[3], 'state', ARGV[4], 'queue', ARGV[5], 'priority', ARGV[6],
	'attempt', ARGV[7], 'max_attempts', ARGV[8], 'dispatch_at_ms', ARGV[9],
	'last_attempt_at', ARGV[10], 'updated_at', ARGV[11])
redis.call('SADD', KEYS[6], ARGV[2])

redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
if ARGV[4] == 'scheduled' then
	redis.call('ZADD', KEYS[2], tonumber(ARGV[9]), ARGV[2])
elseif ARGV[4] == 'dispatching' then
	redis.call('ZADD', KEYS[4], tonumber(ARGV[12]), ARGV[2])
end
if ARGV[13] ~= '' then
	redis.call('ZADD', KEYS[5], tonumber(ARGV[13]), ARGV[2])
end
return 'ok'
`)

// statsScript counts the jobs of one queue per bucket.
// KEYS[1] queue members. ARGV[1] job key prefix, ARGV[2] now in ms.
var statsScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local c = {0, 0, 0, 0, 0, 0}
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	local f = redis.call('HMGET', ARGV[1] .. id, 'state', 'dispatch_at_ms')
	local st = f[1]
	if st == 'queued' then
		c[1] = c[1] + 1
	elseif st == 'scheduled' then
		if tonumber(f[2] or '0') > now then c[5] = c[5] + 1 else c[1] = c[1] + 1 end
	elseif st == 'dispatching' then
		c[2] = c[2] + 1
	elseif st == 'sent' then
		c[3] = c[3] + 1
	elseif st == 'failed' then
		c[4] = c[4] + 1
	elseif st == 'cancelled' then
		c[6] = c[6] + 1
	end
end
return c
`)

func (s *RedisStorage) jobPrefix() string { return s.prefix + ":job:" }

func (s *RedisStorage) jobKey(id uuid.UUID) string { return s.jobPrefix() + id.String() }

func (s *RedisStorage) transitionsKey(id uuid.UUID) string {
	return s.jobKey(id) + ":transitions"
}

func (s *RedisStorage) scheduledKey(q QueueName) string {
	return s.prefix + ":queue:" + string(q) + ":scheduled"
}
func (s *RedisStorage) readyKey(q QueueName) string {
	return s.prefix + ":queue:" + string(q) + ":ready"
}
func (s *RedisStorage) membersKey(q QueueName) string {
	return s.prefix + ":queue:" + string(q) + ":jobs"
}
func (s *RedisStorage) activeKey() string            { return s.prefix + ":active" }
func (s *RedisStorage) terminalKey() string          { return s.prefix + ":terminal" }
func (s *RedisStorage) batchKey(id uuid.UUID) string { return s.prefix + ":batch:" + id.String() }

// CreateJob implements EnqueueRepository
func (s *RedisStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	return s.save(ctx, job, "")
}

// UpdateJob implements DispatchRepository
func (s *RedisStorage) UpdateJob(ctx context.Context, job *Job, expected State) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	return s.save(ctx, job, expected)
}

func (s *RedisStorage) save(ctx context.Context, job *Job, expected State) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	var lastAttempt, lastAttemptMs, terminalMs string
	if job.LastAttemptAt != nil {
		lastAttempt = job.LastAttemptAt.Format(time.RFC3339Nano)
		lastAttemptMs = strconv.FormatInt(job.LastAttemptAt.UnixMilli(), 10)
	}
	if job.TerminalAt != nil && job.State.Terminal() {
		terminalMs = strconv.FormatInt(job.TerminalAt.UnixMilli(), 10)
	}

	keys := []string{
		s.jobKey(job.ID),
		s.scheduledKey(job.Queue),
		s.readyKey(job.Queue),
		s.activeKey(),
		s.terminalKey(),
		s.membersKey(job.Queue),
	}
	args := []any{
		string(expected),
		job.ID.String(),
		data,
		string(job.State),
		string(job.Queue),
		int(job.Priority),
		job.Attempt,
		job.MaxAttempts,
		job.DispatchAt.UnixMilli(),
		lastAttempt,
		job.UpdatedAt.Format(time.RFC3339Nano),
		lastAttemptMs,
		terminalMs,
	}

	res, err := saveScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}

	switch {
	case res == "ok":
		return nil
	case res == "exists":
		return ErrDuplicateJob
	case res == "missing":
		return ErrJobNotFound
	case strings.HasPrefix(res, "conflict:"):
		return &StateConflictError{JobID: job.ID, State: State(strings.TrimPrefix(res, "conflict:")), Op: "update"}
	}
	return fmt.Errorf("save job %s: unexpected script result %q", job.ID, res)
}

// ClaimJob implements DispatchRepository
func (s *RedisStorage) ClaimJob(ctx context.Context, queues []QueueName, now time.Time) (*Job, error) {
	if len(queues) == 0 {
		return nil, ErrNoJobToClaim
	}

	keys := make([]string, 0, 1+2*len(queues))
	keys = append(keys, s.activeKey())
	for _, q := range queues {
		keys = append(keys, s.scheduledKey(q), s.readyKey(q))
	}

	res, err := claimScript.Run(ctx, s.client, keys,
		now.UnixMilli(), s.jobPrefix(), now.Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return decodeRedisJob(fields)
}

// ListStale implements DispatchRepository
func (s *RedisStorage) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	jobs, err := s.rangeJobs(ctx, s.activeKey(), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}

	out := jobs[:0]
	for _, j := range jobs {
		if j.State == StateDispatching {
			out = append(out, j)
		}
	}
	return out, nil
}

// ListTerminal implements TrackerRepository
func (s *RedisStorage) ListTerminal(ctx context.Context, before time.Time, limit int) ([]*Job, error) {
	jobs, err := s.rangeJobs(ctx, s.terminalKey(), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list terminal jobs: %w", err)
	}

	out := jobs[:0]
	for _, j := range jobs {
		if j.State.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

// rangeJobs loads the jobs of an index scored strictly below before
func (s *RedisStorage) rangeJobs(ctx context.Context, key string, before time.Time, limit int) ([]*Job, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, key, by).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.jobPrefix()+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(ids))
	for _, cmd := range cmds {
		job, err := decodeRedisJob(cmd.Val())
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// GetJob implements TrackerRepository
func (s *RedisStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return decodeRedisJob(fields)
}

// AppendTransition implements TrackerRepository
func (s *RedisStorage) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}
	if err := s.client.RPush(ctx, s.transitionsKey(rec.JobID), data).Err(); err != nil {
		return fmt.Errorf("append transition for job %s: %w", rec.JobID, err)
	}
	return nil
}

// ListTransitions implements TrackerRepository
func (s *RedisStorage) ListTransitions(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	n, err := s.client.Exists(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("check job %s: %w", id, err)
	}
	if n == 0 {
		return nil, ErrJobNotFound
	}

	raw, err := s.client.LRange(ctx, s.transitionsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transitions for job %s: %w", id, err)
	}

	out := make([]TransitionRecord, 0, len(raw))
	for _, r := range raw {
		var rec TransitionRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("decode transition: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stats implements TrackerRepository
func (s *RedisStorage) Stats(ctx context.Context, queue QueueName, now time.Time) (Stats, error) {
	counts, err := statsScript.Run(ctx, s.client,
		[]string{s.membersKey(queue)}, s.jobPrefix(), now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Stats{}, fmt.Errorf("stats for queue %s: %w", queue, err)
	}
	if len(counts) != 6 {
		return Stats{}, fmt.Errorf("stats for queue %s: unexpected result length %d", queue, len(counts))
	}

	return Stats{
		Waiting:   int(counts[0]),
		Active:    int(counts[1]),
		Sent:      int(counts[2]),
		Failed:    int(counts[3]),
		Delayed:   int(counts[4]),
		Cancelled: int(counts[5]),
	}, nil
}

// DeleteJobs implements TrackerRepository
func (s *RedisStorage) DeleteJobs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	queues := make([]*redis.StringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			queues[i] = p.HGet(ctx, s.jobKey(id), fieldQueue)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read job queues: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			member := id.String()
			p.Del(ctx, s.jobKey(id), s.transitionsKey(id))
			p.ZRem(ctx, s.terminalKey(), member)
			p.ZRem(ctx, s.activeKey(), member)
			if q := queues[i].Val(); q != "" {
				name := QueueName(q)
				p.SRem(ctx, s.membersKey(name), member)
				p.ZRem(ctx, s.scheduledKey(name), member)
				p.ZRem(ctx, s.readyKey(name), member)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

// CreateBatch implements BatchRepository
func (s *RedisStorage) CreateBatch(ctx context.Context, batch *BatchJob) error {
	if batch == nil {
		return errors.New("batch cannot be nil")
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	if err := s.client.Set(ctx, s.batchKey(batch.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store batch %s: %w", batch.ID, err)
	}
	return nil
}

// GetBatch implements BatchRepository
func (s *RedisStorage) GetBatch(ctx context.Context, id uuid.UUID) (*BatchJob, error) {
	data, err := s.client.Get(ctx, s.batchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}

	var b BatchJob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &b, nil
}

// decodeRedisJob rebuilds a job from its hash. The script-owned fields win
// over the JSON envelope.
func decodeRedisJob(fields map[string]string) (*Job, error) {
	data, ok := fields[fieldData]
	if !ok {
		return nil, ErrJobNotFound
	}

	var j Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}

	if v := fields[fieldState]; v != "" {
		j.State = State(v)
	}
	if v := fields[fieldAttempt]; v != "" {
		attempt, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s attempt: %w", j.ID, err)
		}
		j.Attempt = attempt
	}
	if v := fields[fieldLastAttemptAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s last attempt: %w", j.ID, err)
		}
		j.LastAttemptAt = &t
	}
	if v := fields[fieldUpdatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s updated at: %w", j.ID, err)
		}
		j.UpdatedAt = t
	}
	return &j, nil
}
