package voice

import (
	"context"
	"fmt"
	"time"

	"negotiator/pkg/logger"
	"negotiator/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const defaultPlacementKey = "cap:voice:placements"

// CappedGateway limits in-flight call placements across every API replica
// sharing one redis. All other operations pass through.
type CappedGateway struct {
	Gateway
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewCappedGateway(inner Gateway, rdb *redis.Client, limit int, ttl time.Duration) *CappedGateway {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CappedGateway{Gateway: inner, rdb: rdb, key: defaultPlacementKey, limit: limit, ttl: ttl}
}

func (g *CappedGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, g.rdb, g.key, g.limit, g.ttl)
	if err != nil {
		return PlaceCallResult{}, gatewayErr("place_call", 0, fmt.Errorf("acquire placement slot: %w", err))
	}
	if !ok {
		return PlaceCallResult{}, gatewayErr("place_call", 0, ErrConcurrencyLimited)
	}
	defer func() {
		// Released on a detached context so a cancelled request still frees its slot.
		if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), g.rdb, g.key); err != nil {
			logger.From(ctx).Warn("release placement slot failed", "error", err)
		}
	}()
	return g.Gateway.PlaceCall(ctx, req)
}
