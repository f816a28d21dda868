package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// popIfHead pops the list head only when its id matches ARGV[1].
// Reply: nil for an empty list, {1, head} when popped, {0, head} otherwise.
var popIfHead = redis.NewScript(`
local head = redis.call('LINDEX', KEYS[1], 0)
if not head then
	return false
end
if cjson.decode(head).id ~= ARGV[1] then
	return {0, head}
end
redis.call('LPOP', KEYS[1])
return {1, head}
`)

// RedisQueue keeps prompts as JSON elements of a Redis list
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) LoadAll(ctx context.Context) ([]model.Prompt, error) {
	items, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, backendError(err, "load")
	}

	prompts := make([]model.Prompt, 0, len(items))
	for _, item := range items {
		p, err := decodePrompt(item)
		if err != nil {
			return nil, backendError(err, "load")
		}
		prompts = append(prompts, p)
	}
	return prompts, nil
}

func (q *RedisQueue) Head(ctx context.Context) (model.Prompt, bool, error) {
	item, err := q.client.LIndex(ctx, q.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return model.Prompt{}, false, nil
	}
	if err != nil {
		return model.Prompt{}, false, backendError(err, "head")
	}

	p, err := decodePrompt(item)
	if err != nil {
		return model.Prompt{}, false, backendError(err, "head")
	}
	return p, true, nil
}

func (q *RedisQueue) ReplaceAll(ctx context.Context, prompts []model.Prompt) error {
	if err := validate(prompts); err != nil {
		return err
	}

	items := make([]interface{}, len(prompts))
	for i, p := range prompts {
		data, err := json.Marshal(p)
		if err != nil {
			return backendError(fmt.Errorf("failed to marshal prompt: %w", err), "replace")
		}
		items[i] = data
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, q.key)
		if len(items) > 0 {
			pipe.RPush(ctx, q.key, items...)
		}
		return nil
	})
	if err != nil {
		return backendError(err, "replace")
	}

	logger.Info("Prompt queue replaced", zap.Int("count", len(prompts)))
	return nil
}

func (q *RedisQueue) RemoveFirst(ctx context.Context) (model.Prompt, bool, error) {
	item, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return model.Prompt{}, false, nil
	}
	if err != nil {
		return model.Prompt{}, false, backendError(err, "remove")
	}

	p, err := decodePrompt(item)
	if err != nil {
		return model.Prompt{}, false, backendError(err, "remove")
	}
	return p, true, nil
}

func (q *RedisQueue) RemoveHead(ctx context.Context, expectedID string) (model.Prompt, error) {
	res, err := popIfHead.Run(ctx, q.client, []string{q.key}, expectedID).Slice()
	if errors.Is(err, redis.Nil) {
		return model.Prompt{}, staleHead(expectedID, nil)
	}
	if err != nil {
		return model.Prompt{}, backendError(err, "remove")
	}
	if len(res) != 2 {
		return model.Prompt{}, backendError(fmt.Errorf("unexpected script reply %v", res), "remove")
	}

	popped, _ := res[0].(int64)
	raw, _ := res[1].(string)

	p, err := decodePrompt(raw)
	if err != nil {
		return model.Prompt{}, backendError(err, "remove")
	}
	if popped != 1 {
		return model.Prompt{}, staleHead(expectedID, &p)
	}
	return p, nil
}

func decodePrompt(item string) (model.Prompt, error) {
	var p model.Prompt
	if err := json.Unmarshal([]byte(item), &p); err != nil {
		return model.Prompt{}, fmt.Errorf("failed to decode prompt: %w", err)
	}
	return p, nil
}
