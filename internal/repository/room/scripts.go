package room

import "github.com/redis/go-redis/v9"

// KEYS[1] is always the room's meta key, KEYS[2] its member set.
const guard = `
if redis.call('EXISTS', KEYS[1]) == 0 then return {'gone'} end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then return {'forbidden'} end
local ttl = redis.call('PTTL', KEYS[1])
local function sync(key)
  if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
end
`

var (
	// ARGV: presented token, freshly minted token, capacity.
	admitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {'gone'} end
if ARGV[1] ~= '' and redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return {'existing', ARGV[1]}
end
if redis.call('SCARD', KEYS[2]) >= tonumber(ARGV[3]) then return {'full'} end
redis.call('SADD', KEYS[2], ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then redis.call('PEXPIRE', KEYS[2], ttl) end
return {'admitted', ARGV[2]}
`)

	// KEYS[3] public key hash. ARGV: token, payload.
	putKeysScript = redis.NewScript(guard + `
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
sync(KEYS[3])
return {'ok'}
`)

	// KEYS[3] encapsulation hash, keyed by the recipient. ARGV: token, payload.
	putEncapsulationScript = redis.NewScript(guard + `
local recipient = false
for _, m in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  if m ~= ARGV[1] then recipient = m end
end
if not recipient then return {'nopeer'} end
redis.call('HSET', KEYS[3], recipient, ARGV[2])
sync(KEYS[3])
return {'ok', recipient}
`)

	// KEYS[3] message list. ARGV: token, record.
	appendMessageScript = redis.NewScript(guard + `
redis.call('RPUSH', KEYS[3], ARGV[2])
sync(KEYS[3])
return {'ok'}
`)

	// KEYS: meta, members, keys, kem, messages, expiry set.
	// ARGV: room id, event channel, event payload.
	//
	// Whoever removes the room from the expiry set (or still finds its meta)
	// owns the destruction and is the only one to publish.
	destroyScript = redis.NewScript(`
local pending = redis.call('ZREM', KEYS[6], ARGV[1])
local live = redis.call('EXISTS', KEYS[1])
if pending == 0 and live == 0 then return 0 end
redis.call('PUBLISH', ARGV[2], ARGV[3])
redis.call('DEL', KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5])
return 1
`)
)
