package pg_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/courier/pkg/pg"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	ok := pg.Healthcheck(pingFunc(func(context.Context) error { return nil }))
	assert.NoError(t, ok(context.Background()))

	down := pg.Healthcheck(pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	assert.ErrorIs(t, down(context.Background()), pg.ErrHealthcheckFailed)
}
