// Package captcha verifies public form tokens with reCAPTCHA or hCaptcha.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	dErrors "intakehub/pkg/domain-errors"
)

const (
	ProviderRecaptcha = "recaptcha"
	ProviderHCaptcha  = "hcaptcha"

	recaptchaURL = "https://www.google.com/recaptcha/api/siteverify"
	hcaptchaURL  = "https://hcaptcha.com/siteverify"

	// MinScore is the lowest reCAPTCHA v3 score accepted.
	MinScore = 0.5
)

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier calls the provider's siteverify endpoint.
type Verifier struct {
	client   *resty.Client
	endpoint string
	secret   string
	provider string
	logger   *slog.Logger
}

type Option func(*Verifier)

// WithEndpoint overrides the provider URL.
func WithEndpoint(url string) Option {
	return func(v *Verifier) {
		v.endpoint = url
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// New builds a verifier for provider. Unknown providers are rejected.
func New(provider, secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("captcha secret is required")
	}
	v := &Verifier{
		client: resty.New().
			SetTimeout(5*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(200*time.Millisecond).
			SetHeader("Accept", "application/json"),
		secret:   secret,
		provider: provider,
		logger:   slog.Default(),
	}
	switch provider {
	case ProviderRecaptcha, "":
		v.provider = ProviderRecaptcha
		v.endpoint = recaptchaURL
	case ProviderHCaptcha:
		v.endpoint = hcaptchaURL
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", provider)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks token for the client at remoteIP.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return dErrors.Validation("captcha verification required",
			dErrors.FieldError{Field: "captcha_token", Message: "is required"})
	}

	form := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" {
		form["remoteip"] = remoteIP
	}

	var body verifyResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&body).
		Post(v.endpoint)
	if err != nil {
		v.logger.ErrorContext(ctx, "captcha provider call failed",
			"provider", v.provider,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "captcha verification unavailable")
	}
	if resp.IsError() {
		v.logger.ErrorContext(ctx, "captcha provider returned an error status",
			"provider", v.provider,
			"status_code", resp.StatusCode(),
		)
		return dErrors.New(dErrors.CodeUnavailable, "captcha verification unavailable")
	}

	if !body.Success {
		v.logger.InfoContext(ctx, "captcha rejected",
			"provider", v.provider,
			"error_codes", body.ErrorCodes,
		)
		return dErrors.New(dErrors.CodeForbidden, "captcha verification failed")
	}
	if body.Score != nil && *body.Score < MinScore {
		v.logger.InfoContext(ctx, "captcha score below threshold",
			"provider", v.provider,
			"score", *body.Score,
		)
		return dErrors.New(dErrors.CodeForbidden, "captcha verification failed")
	}
	return nil
}
