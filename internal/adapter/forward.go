package adapter

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ngoclaw/llmgateway/internal/domain"
)

// ExecuteForward runs httpReq to completion and shapes the result into a
// domain.ForwardResult, the tagged union spec §9 calls for in place of a
// bare nullable stream field: streaming responses set Stream and leave
// Body nil, buffered responses set Body and leave Stream nil, never both.
func ExecuteForward(client *http.Client, httpReq *http.Request, streaming, skipTransform bool) (*domain.ForwardResult, error) {
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return &domain.ForwardResult{Success: false, Err: err, Latency: time.Since(start)}, nil
	}
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &domain.ForwardResult{
			Success: false,
			Status:  resp.StatusCode,
			Body:    body,
			Err:     fmt.Errorf("upstream returned status %d", resp.StatusCode),
			Latency: latency,
		}, nil
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if streaming {
		return &domain.ForwardResult{
			Success:       true,
			Status:        resp.StatusCode,
			Headers:       headers,
			Stream:        resp.Body,
			SkipTransform: skipTransform,
			Latency:       latency,
		}, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return &domain.ForwardResult{Success: false, Status: resp.StatusCode, Err: err, Latency: latency}, nil
	}
	return &domain.ForwardResult{
		Success:       true,
		Status:        resp.StatusCode,
		Headers:       headers,
		Body:          body,
		SkipTransform: skipTransform,
		Latency:       latency,
	}, nil
}
