package redis

import "errors"

var (
	ErrEmptyConnectionURL           = errors.New("redis: empty connection URL")
	ErrFailedToParseRedisConnString = errors.New("redis: invalid connection URL")
	ErrRedisNotReady                = errors.New("redis: not ready before retries ran out")
	ErrHealthcheckFailed            = errors.New("redis: healthcheck failed")
)
