package providers

import (
	"context"
	"encoding/base64"
	"log/slog"

	"golang.org/x/time/rate"
)

// guarded wraps a Provider with a request rate limiter and an image
// payload check. Oversized images are dropped silently (the provider
// would reject the whole request otherwise) and the drop is reported
// through Response.ImageDropped so the loop can record it.
type guarded struct {
	Provider
	limiter *rate.Limiter
}

// Guard wraps p. rpm <= 0 disables rate limiting.
func Guard(p Provider, rpm int) Provider {
	g := &guarded{Provider: p}
	if rpm > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	return g
}

func (g *guarded) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	dropped := false
	caps := g.Capabilities()
	if req.Image != nil {
		decodedLen := base64.StdEncoding.DecodedLen(len(req.Image.Data))
		switch {
		case !caps.SupportsImages:
			req.Image = nil
			dropped = true
		case caps.MaxImageBytes > 0 && decodedLen > caps.MaxImageBytes:
			slog.Warn("provider: image over payload limit, sending text only",
				"provider", g.Name(), "bytes", decodedLen, "limit", caps.MaxImageBytes)
			req.Image = nil
			dropped = true
		}
	}

	resp, err := g.Provider.GenerateResponse(ctx, req)
	if err != nil {
		return nil, err
	}
	if dropped {
		resp.ImageDropped = true
	}
	return resp, nil
}
