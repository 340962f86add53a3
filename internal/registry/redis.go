package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// membershipSep separates the session and team IDs in a stored connection value.
const membershipSep = "\x1f"

var (
	joinScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
if redis.call('HINCRBY', KEYS[2], ARGV[2], 1) == 1 then
	return 1
end
return 0
`)

	leaveScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return -1
end
redis.call('DEL', KEYS[1])
if redis.call('HINCRBY', KEYS[2], ARGV[2], -1) <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[2])
	return 1
end
return 0
`)

	releaseScript = redis.NewScript(`
local need = tonumber(ARGV[1])
if need > 0 and redis.call('SCARD', KEYS[1]) >= need then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)
)

// RedisRegistry shares the active team sets between instances. Every mutation is a single Lua script.
// TODO: expire connections owned by an instance that crashed without calling Leave.
type RedisRegistry struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisRegistry(rc redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{
		redis:  rc,
		prefix: prefix,
	}
}

func (r *RedisRegistry) Join(ctx context.Context, sessionID, teamID, connID string) (bool, error) {
	val := encodeMembership(Membership{SessionID: sessionID, TeamID: teamID})

	cur, err := r.redis.Get(ctx, r.connKey(connID)).Result()
	switch {
	case stderrors.Is(err, redis.Nil):
	case err != nil:
		return false, fmt.Errorf("registry: get connection: %w", err)
	case cur != val:
		if _, err := r.leave(ctx, connID, cur); err != nil {
			return false, err
		}
	}

	n, err := joinScript.Run(ctx, r.redis, []string{r.connKey(connID), r.teamsKey(sessionID)}, val, teamID).Int()
	if err != nil {
		return false, fmt.Errorf("registry: join: %w", err)
	}

	return n == 1, nil
}

func (r *RedisRegistry) Leave(ctx context.Context, connID string) (Membership, bool, error) {
	cur, err := r.redis.Get(ctx, r.connKey(connID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return Membership{}, false, nil
	}
	if err != nil {
		return Membership{}, false, fmt.Errorf("registry: get connection: %w", err)
	}

	m, ok := decodeMembership(cur)
	if !ok {
		return Membership{}, false, nil
	}

	removed, err := r.leave(ctx, connID, cur)
	return m, removed, err
}

func (r *RedisRegistry) leave(ctx context.Context, connID, val string) (bool, error) {
	m, ok := decodeMembership(val)
	if !ok {
		return false, r.redis.Del(ctx, r.connKey(connID)).Err()
	}

	n, err := leaveScript.Run(ctx, r.redis, []string{r.connKey(connID), r.teamsKey(m.SessionID)}, val, m.TeamID).Int()
	if err != nil {
		return false, fmt.Errorf("registry: leave: %w", err)
	}

	return n == 1, nil
}

func (r *RedisRegistry) ActiveTeamCount(ctx context.Context, sessionID string) (int, error) {
	n, err := r.redis.HLen(ctx, r.teamsKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: count teams: %w", err)
	}

	return int(n), nil
}

func (r *RedisRegistry) ActiveTeams(ctx context.Context, sessionID string) ([]string, error) {
	teams, err := r.redis.HKeys(ctx, r.teamsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list teams: %w", err)
	}

	sort.Strings(teams)
	return teams, nil
}

func (r *RedisRegistry) connKey(connID string) string {
	return fmt.Sprintf("%s:conn:%s", r.prefix, connID)
}

func (r *RedisRegistry) teamsKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:teams", r.prefix, sessionID)
}

func encodeMembership(m Membership) string {
	return m.SessionID + membershipSep + m.TeamID
}

func decodeMembership(s string) (Membership, bool) {
	session, team, ok := strings.Cut(s, membershipSep)
	return Membership{SessionID: session, TeamID: team}, ok
}

// RedisReadySet is the redis counterpart of MemoryReadySet.
type RedisReadySet struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisReadySet(rc redis.UniversalClient, prefix string) *RedisReadySet {
	return &RedisReadySet{
		redis:  rc,
		prefix: prefix,
	}
}

func (s *RedisReadySet) Add(ctx context.Context, sessionID, teamID string) (bool, error) {
	n, err := s.redis.SAdd(ctx, s.key(sessionID), teamID).Result()
	if err != nil {
		return false, fmt.Errorf("registry: add ready team: %w", err)
	}

	return n == 1, nil
}

func (s *RedisReadySet) Contains(ctx context.Context, sessionID, teamID string) (bool, error) {
	ok, err := s.redis.SIsMember(ctx, s.key(sessionID), teamID).Result()
	if err != nil {
		return false, fmt.Errorf("registry: check ready team: %w", err)
	}

	return ok, nil
}

func (s *RedisReadySet) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.key(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("registry: count ready teams: %w", err)
	}

	return int(n), nil
}

func (s *RedisReadySet) Release(ctx context.Context, sessionID string, need int) (bool, error) {
	n, err := releaseScript.Run(ctx, s.redis, []string{s.key(sessionID)}, need).Int()
	if err != nil {
		return false, fmt.Errorf("registry: release ready teams: %w", err)
	}

	return n == 1, nil
}

func (s *RedisReadySet) Clear(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisReadySet) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:ready", s.prefix, sessionID)
}
