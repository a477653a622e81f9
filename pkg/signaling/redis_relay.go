/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Redis Relay - 无中心信令：房间成员存 Hash，消息走 Pub/Sub
 * 每个客户端自己生成 roster / user-joined / user-left
 * 成员另有一个带 TTL 的 presence key，由心跳续期；key 过期的成员视为已离开
 */
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maiguangyang/classroom_core/pkg/utils"
)

// RedisConfig configures a Redis relay.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces channels and hashes
	KeyPrefix string
	// PresenceTTL is how long a member survives without a heartbeat
	PresenceTTL time.Duration
}

const defaultPresenceTTL = 15 * time.Second

// 仅当登记仍属于该 session 时才删除
var removeMember = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], ARGV[1])
if v and cjson.decode(v)["transportSessionId"] == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// DefaultRedisConfig returns default settings
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		KeyPrefix:   "classroom",
		PresenceTTL: defaultPresenceTTL,
	}
}

// RedisRelay is a Relay over Redis pub/sub. The room channel carries every
// envelope; receivers drop what is addressed to another session.
type RedisRelay struct {
	mu sync.Mutex

	client    *redis.Client
	ownClient bool
	prefix    string
	ttl       time.Duration
	sessionID string

	roomID        string
	participantID string
	pubsub        *redis.PubSub
	stopBeat      context.CancelFunc

	inbox  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r := NewRedisRelay(client, cfg.KeyPrefix)
	r.ownClient = true
	if cfg.PresenceTTL > 0 {
		r.ttl = cfg.PresenceTTL
	}
	return r, nil
}

// NewRedisRelay wraps an existing client.
func NewRedisRelay(client *redis.Client, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "classroom"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRelay{
		client:    client,
		prefix:    prefix,
		ttl:       defaultPresenceTTL,
		sessionID: uuid.NewString(),
		inbox:     make(chan Message, defaultInboxSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SessionID returns this client's transport session id.
func (r *RedisRelay) SessionID() string {
	return r.sessionID
}

func (r *RedisRelay) channel(roomID string) string {
	return r.prefix + ":room:" + roomID
}

func (r *RedisRelay) membersKey(roomID string) string {
	return r.prefix + ":room:" + roomID + ":participants"
}

func (r *RedisRelay) presenceKey(roomID, sessionID string) string {
	return r.prefix + ":room:" + roomID + ":presence:" + sessionID
}

// Send implements Relay
func (r *RedisRelay) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRelayUnavailable
	}

	switch m := msg.(type) {
	case JoinRoom:
		return r.join(ctx, m)
	case LeaveRoom:
		return r.leave(ctx)
	case Offer, Answer, Candidate:
		r.mu.Lock()
		roomID := r.roomID
		r.mu.Unlock()
		if roomID == "" {
			return ErrRelayUnavailable
		}
		return r.publish(ctx, roomID, WithSender(msg, r.sessionID))
	default:
		return ErrUnknownMessageType
	}
}

func (r *RedisRelay) publish(ctx context.Context, roomID string, msg Message) error {
	env, err := ToEnvelope(msg)
	if err != nil {
		return err
	}
	if env.From == "" {
		env.From = r.sessionID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(roomID), data).Err(); err != nil {
		utils.Warn("[RedisRelay] publish failed: %v", err)
		return ErrRelayUnavailable
	}
	return nil
}

func (r *RedisRelay) join(ctx context.Context, m JoinRoom) error {
	p := m.Participant
	p.TransportSessionID = r.sessionID
	entry, err := json.Marshal(p)
	if err != nil {
		return err
	}

	// 先订阅再登记，避免漏掉登记后立即到来的消息
	pubsub := r.client.Subscribe(ctx, r.channel(m.RoomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("%w: subscribe: %v", ErrRelayUnavailable, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.presenceKey(m.RoomID, r.sessionID), p.ParticipantID, r.ttl)
		pipe.HSet(ctx, r.membersKey(m.RoomID), p.ParticipantID, entry)
		return nil
	})
	if err != nil {
		pubsub.Close()
		return fmt.Errorf("%w: register: %v", ErrRelayUnavailable, err)
	}

	beat, stopBeat := context.WithCancel(r.ctx)
	r.mu.Lock()
	r.roomID = m.RoomID
	r.participantID = p.ParticipantID
	r.pubsub = pubsub
	r.stopBeat = stopBeat
	r.mu.Unlock()

	r.wg.Add(2)
	go r.readLoop(pubsub)
	go r.heartbeat(beat, m.RoomID)

	roster, err := r.members(ctx, m.RoomID)
	if err != nil {
		return fmt.Errorf("%w: roster: %v", ErrRelayUnavailable, err)
	}
	r.deliver(RoomRoster{RoomID: m.RoomID, Participants: roster})

	return r.publish(ctx, m.RoomID, UserJoined{RoomID: m.RoomID, Participant: p})
}

// members returns the live members of a room. Entries whose presence key
// has expired belong to clients that went away without leaving; they are
// removed and announced as left.
func (r *RedisRelay) members(ctx context.Context, roomID string) ([]Participant, error) {
	raw, err := r.client.HGetAll(ctx, r.membersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Participant, 0, len(raw))
	for _, v := range raw {
		var entry Participant
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	alive := make([]*redis.IntCmd, len(entries))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, entry := range entries {
			alive[i] = pipe.Exists(ctx, r.presenceKey(roomID, entry.TransportSessionID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	roster := make([]Participant, 0, len(entries))
	for i, entry := range entries {
		if alive[i].Val() > 0 {
			roster = append(roster, entry)
			continue
		}
		r.dropGhost(ctx, roomID, entry)
	}
	return roster, nil
}

func (r *RedisRelay) dropGhost(ctx context.Context, roomID string, entry Participant) {
	n, err := removeMember.Run(ctx, r.client, []string{r.membersKey(roomID)},
		entry.ParticipantID, entry.TransportSessionID).Int()
	if err != nil || n == 0 {
		// 其他客户端已经清理过
		return
	}

	utils.Info("[RedisRelay] %s (session %s) expired", entry.ParticipantID, entry.TransportSessionID)
	left := UserLeft{
		RoomID:             roomID,
		ParticipantID:      entry.ParticipantID,
		TransportSessionID: entry.TransportSessionID,
	}
	r.deliver(left)
	r.publish(ctx, roomID, left)
}

// heartbeat keeps this session's presence key alive and sweeps expired
// members
func (r *RedisRelay) heartbeat(ctx context.Context, roomID string) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Expire(ctx, r.presenceKey(roomID, r.sessionID), r.ttl).Err(); err != nil {
				utils.Warn("[RedisRelay] heartbeat failed: %v", err)
				continue
			}
			if _, err := r.members(ctx, roomID); err != nil && ctx.Err() == nil {
				utils.Warn("[RedisRelay] sweep failed: %v", err)
			}
		}
	}
}

func (r *RedisRelay) leave(ctx context.Context) error {
	r.mu.Lock()
	roomID := r.roomID
	participantID := r.participantID
	pubsub := r.pubsub
	stopBeat := r.stopBeat
	r.roomID = ""
	r.pubsub = nil
	r.stopBeat = nil
	r.mu.Unlock()

	if roomID == "" {
		return nil
	}
	if stopBeat != nil {
		stopBeat()
	}

	// 只删除仍属于本 session 的登记（重连后可能已被覆盖）
	removeMember.Run(ctx, r.client, []string{r.membersKey(roomID)}, participantID, r.sessionID)
	r.client.Del(ctx, r.presenceKey(roomID, r.sessionID))

	err := r.publish(ctx, roomID, UserLeft{
		RoomID:             roomID,
		ParticipantID:      participantID,
		TransportSessionID: r.sessionID,
	})
	if pubsub != nil {
		pubsub.Close()
	}
	return err
}

func (r *RedisRelay) readLoop(pubsub *redis.PubSub) {
	defer r.wg.Done()

	ch := pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				utils.Warn("[RedisRelay] dropping undecodable message: %v", err)
				continue
			}
			if env.From == r.sessionID {
				continue
			}
			if env.To != "" && env.To != r.sessionID {
				continue
			}
			msg, err := env.Message()
			if err != nil {
				utils.Warn("[RedisRelay] dropping message: %v", err)
				continue
			}
			r.deliver(msg)
		}
	}
}

func (r *RedisRelay) deliver(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.inbox <- msg:
	default:
		utils.Warn("[RedisRelay] inbox full, dropping %s", msg.MessageType())
	}
}

// Messages implements Relay
func (r *RedisRelay) Messages() <-chan Message {
	return r.inbox
}

// Close implements Relay
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
	r.leave(ctx)
	cancel()

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	close(r.inbox)
	r.mu.Unlock()

	if r.ownClient {
		return r.client.Close()
	}
	return nil
}
