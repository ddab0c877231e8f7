// Package notify holds the outbound notification channels used to deliver
// verification codes. Each Send is one attempt; retries are up to the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"taskmarket/internal/config"
	"taskmarket/lib/sl"
	"time"
)

// SMSSender posts messages to an HTTP SMS gateway.
type SMSSender struct {
	hc     *http.Client
	url    string
	apiKey string
	sender string
	log    *slog.Logger
}

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func NewSMSSender(conf config.Sms, log *slog.Logger) *SMSSender {
	return &SMSSender{
		hc:     &http.Client{Timeout: 10 * time.Second},
		url:    conf.Url,
		apiKey: conf.ApiKey,
		sender: conf.Sender,
		log:    log.With(sl.Module("notify.sms")),
	}
}

func (s *SMSSender) Send(ctx context.Context, destination, payload string) error {
	log := s.log.With(sl.Secret("to", destination))

	status := "ERROR"
	t1 := time.Now()
	defer func() {
		log.Debug("sms gateway request completed",
			slog.String("duration", fmt.Sprintf("%.3fms", float64(time.Since(t1))/float64(time.Millisecond))),
			slog.String("status", status))
	}()

	data, err := json.Marshal(smsRequest{
		From: s.sender,
		To:   destination,
		Text: payload,
	})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	status = resp.Status
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway %s: %s", resp.Status, body)
	}
	return nil
}
