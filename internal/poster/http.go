// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package poster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/suisei-cn/stargazer/internal/config"
	"github.com/suisei-cn/stargazer/internal/metrics"
)

// HTTPPoster posts to the configured endpoint with client-side rate limiting
// and a circuit breaker in front of the platform.
//
// The breaker counts only transient failures: a permanent rejection means the
// platform is up and answering, so it must not open the circuit.
type HTTPPoster struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

func NewHTTPPoster(cfg config.PosterConfig) (*HTTPPoster, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("poster: http mode requires a url")
	}

	p := &HTTPPoster{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	if cfg.RatePerMinute > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), burst)
	}

	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	p.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "poster",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	})

	return p, nil
}

// Post sends one notification. The returned id is the platform's post id.
func (p *HTTPPoster) Post(ctx context.Context, text string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("poster: rate limiter: %w", err)
		}
	}

	start := time.Now()
	id, err := p.breaker.Execute(func() (string, error) {
		return p.post(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Category: CategoryTransient, Err: err}
	}

	category := ""
	if err != nil {
		category = string(CategoryTransient)
		if IsPermanent(err) {
			category = string(CategoryPermanent)
		}
	}
	metrics.RecordPost(time.Since(start), category)
	return id, err
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	ID string `json:"id"`
}

func (p *HTTPPoster) post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(postRequest{Text: text})
	if err != nil {
		return "", &Error{Category: CategoryPermanent, Err: fmt.Errorf("encode post: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Category: CategoryPermanent, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &Error{Category: CategoryTransient, Err: fmt.Errorf("post request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// The post is out; a garbled response body must not trigger a
		// retry, so decoding is best effort.
		var pr postResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &pr)
		return pr.ID, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("platform answered %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return "", &Error{Category: CategoryTransient, StatusCode: resp.StatusCode, Err: cause}
	default:
		return "", &Error{Category: CategoryPermanent, StatusCode: resp.StatusCode, Err: cause}
	}
}
