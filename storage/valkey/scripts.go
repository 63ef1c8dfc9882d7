package valkey

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Each multi-key mutation runs as one script so no reader sees a tenant
// with two current grants, or a grant that is active in one index and
// inactive in another. Tenant index keys are derived inside the scripts
// from ARGV prefix, so the store targets a single node, not a cluster.

// luaPut upserts one credential hash and moves it to the head of its
// tenant's active index.
//
// KEYS[1] = credential hash key
// KEYS[2] = sequence counter key
// KEYS[3] = set of all ids
// KEYS[4] = set of active ids
// ARGV[1] = id
// ARGV[2] = tenant
// ARGV[3] = payload
// ARGV[4] = timestamp (RFC 3339)
// ARGV[5] = key prefix
//
// Returns the assigned sequence.
const luaPut = `
local prefix = ARGV[5]
local old = redis.call('HGET', KEYS[1], 'tenant')
if old and old ~= ARGV[2] then
    redis.call('ZREM', prefix .. 'tenant:' .. old .. ':active', ARGV[1])
    redis.call('SREM', prefix .. 'tenant:' .. old .. ':all', ARGV[1])
end

local seq = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1],
    'id', ARGV[1],
    'tenant', ARGV[2],
    'payload', ARGV[3],
    'active', '1',
    'seq', tostring(seq),
    'activated_at', ARGV[4],
    'updated_at', ARGV[4])

redis.call('ZADD', prefix .. 'tenant:' .. ARGV[2] .. ':active', seq, ARGV[1])
redis.call('SADD', prefix .. 'tenant:' .. ARGV[2] .. ':all', ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SADD', KEYS[4], ARGV[1])
return seq
`

// luaGetActive returns the flattened hash of the highest-scored member of a
// tenant's active index, or an empty array.
//
// KEYS[1] = tenant active index
// ARGV[1] = key prefix
const luaGetActive = `
local ids = redis.call('ZREVRANGE', KEYS[1], 0, 0)
if #ids == 0 then
    return {}
end
return redis.call('HGETALL', ARGV[1] .. 'cred:' .. ids[1])
`

// luaDeactivate flips every member of a tenant's active index to inactive
// and clears the index.
//
// KEYS[1] = tenant active index
// KEYS[2] = set of active ids
// ARGV[1] = timestamp (RFC 3339)
// ARGV[2] = key prefix
//
// Returns the number of records deactivated.
const luaDeactivate = `
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
    redis.call('HSET', ARGV[2] .. 'cred:' .. id, 'active', '0', 'updated_at', ARGV[1])
    redis.call('SREM', KEYS[2], id)
end
redis.call('DEL', KEYS[1])
return #ids
`

// luaDelete removes a credential hash and every index entry for it.
//
// KEYS[1] = credential hash key
// KEYS[2] = set of all ids
// KEYS[3] = set of active ids
// ARGV[1] = id
// ARGV[2] = key prefix
//
// Returns 1 when a record was removed, 0 when none existed.
const luaDelete = `
local tenant = redis.call('HGET', KEYS[1], 'tenant')
if not tenant then
    return 0
end
redis.call('ZREM', ARGV[2] .. 'tenant:' .. tenant .. ':active', ARGV[1])
redis.call('SREM', ARGV[2] .. 'tenant:' .. tenant .. ':all', ARGV[1])
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`

// luaList returns the flattened hash of every member of a tenant's index.
//
// KEYS[1] = tenant index of all ids
// ARGV[1] = key prefix
const luaList = `
local ids = redis.call('SMEMBERS', KEYS[1])
local out = {}
for _, id in ipairs(ids) do
    table.insert(out, redis.call('HGETALL', ARGV[1] .. 'cred:' .. id))
end
return out
`
