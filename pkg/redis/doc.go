// Package redis connects to Redis through go-redis/v9 with retries and
// exposes a health probe. The queue package builds RedisStorage on top of
// the returned client.
//
// # Usage
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	storage := queue.NewRedisStorage(client, queue.WithRedisPrefix(cfg.KeyPrefix))
//
// Sentinel errors (ErrRedisNotReady and friends) wrap go-redis errors with
// errors.Join.
package redis
