package redis

const (
	// retentionSeconds bounds how long journal entries live (90 days)
	retentionSeconds = 7776000

	// addUploadScript atomically stores an upload record and its indexes
	addUploadScript = `
local record_key = KEYS[1]    -- tracktime:upload:{id}
local timeline = KEYS[2]      -- tracktime:uploads
local date_index = KEYS[3]    -- tracktime:uploads:date:{date}

local id = ARGV[1]
local score = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

redis.call('HSET', record_key,
  'id', id,
  'date', ARGV[4],
  'destination', ARGV[5],
  'remote', ARGV[6],
  'trigger', ARGV[7],
  'bytes', ARGV[8],
  'attempts', ARGV[9],
  'started_at', ARGV[10],
  'duration_ms', ARGV[11],
  'success', ARGV[12],
  'error', ARGV[13]
)
redis.call('EXPIRE', record_key, ttl)

redis.call('ZADD', timeline, score, id)

redis.call('SADD', date_index, id)
redis.call('EXPIRE', date_index, ttl)

return 'OK'
`

	// pruneUploadsScript removes records started before a cutoff
	pruneUploadsScript = `
local timeline = KEYS[1]         -- tracktime:uploads
local record_prefix = ARGV[1]    -- tracktime:upload:
local date_prefix = ARGV[2]      -- tracktime:uploads:date:
local cutoff = ARGV[3]

local ids = redis.call('ZRANGEBYSCORE', timeline, '-inf', '(' .. cutoff)
for _, id in ipairs(ids) do
  local record_key = record_prefix .. id
  local date = redis.call('HGET', record_key, 'date')
  if date then
    redis.call('SREM', date_prefix .. date, id)
  end
  redis.call('DEL', record_key)
  redis.call('ZREM', timeline, id)
end

return #ids
`
)
