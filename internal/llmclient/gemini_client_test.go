package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/uiguide-cli/internal/config"
)

// -- Test Setup Helpers --

func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Model:             "gemini-2.5-flash",
		APIKey:            "test-api-key",
		Endpoint:          "https://generativelanguage.googleapis.com/v1beta/models",
		APITimeout:        30 * time.Second,
		Temperature:       0.1,
		MaxTokens:         2048,
		RequestsPerMinute: 6000,
		MaxRetryElapsed:   5 * time.Second,
	}
}

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
// It returns the client and a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		// Default handler for tests that don't require HTTP interactions
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")

	// Ensure tests fail fast on unexpected hangs
	client.httpClient.Timeout = 5 * time.Second

	t.Cleanup(server.Close)
	return client, server, observedLogs
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() GenerationRequest {
	return GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options: GenerationOptions{
			Temperature: 0.7,
		},
	}
}

func successPayload(text string, promptTokens, completionTokens int) geminiResponsePayload {
	var payload geminiResponsePayload
	payload.Candidates = append(payload.Candidates, struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		Content:      geminiContent{Parts: []geminiPart{{Text: text}}},
		FinishReason: "STOP",
	})
	payload.UsageMetadata.PromptTokenCount = promptTokens
	payload.UsageMetadata.CandidatesTokenCount = completionTokens
	payload.UsageMetadata.TotalTokenCount = promptTokens + completionTokens
	return payload
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_Success(t *testing.T) {
	logger := zap.NewNop()
	cfg := getValidLLMConfig()

	client, err := NewGeminiClient(cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, client)

	// White box verification of internal state
	assert.Equal(t, cfg.APIKey, client.apiKey)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	expectedEndpoint := fmt.Sprintf("%s/%s:generateContent", cfg.Endpoint, cfg.Model)
	assert.Equal(t, expectedEndpoint, client.endpoint)
	assert.NotNil(t, client.backoffFactory, "Backoff factory should be initialized")
	assert.NotNil(t, client.limiter, "Rate limiter should be initialized")
}

func TestNewGeminiClient_Failure_MissingAPIKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""

	client, err := NewGeminiClient(cfg, zap.NewNop())

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "API Key is required")
}

// -- Test Cases: Request Payload Generation --

func TestBuildRequestPayload_Standard(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)
	client.config.MaxTokens = 2048

	req := createTestRequest()
	req.Options.Temperature = 0.5

	payload := client.buildRequestPayload(req)

	require.NotNil(t, payload.SystemInstruction)
	require.Len(t, payload.Contents, 1)

	assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)

	assert.InDelta(t, 0.5, payload.GenerationConfig.Temperature, 0.0001)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
	assert.Empty(t, payload.GenerationConfig.ResponseMimeType)
}

func TestBuildRequestPayload_ForceJSON(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)

	req := createTestRequest()
	req.Options.ForceJSONFormat = true

	payload := client.buildRequestPayload(req)

	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
}

func TestBuildRequestPayload_DefaultTemperature(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)
	client.config.Temperature = 0.3

	req := createTestRequest()
	req.Options.Temperature = 0

	payload := client.buildRequestPayload(req)

	assert.InDelta(t, 0.3, payload.GenerationConfig.Temperature, 0.0001)
}

// -- Test Cases: Generation - Success Scenarios --

func TestGenerateResponse_Success(t *testing.T) {
	expectedResponseText := "This is the generated content."
	expectedPromptTokens := 100
	expectedCompletionTokens := 50

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload geminiRequestPayload
		err := json.Unmarshal(body, &payload)
		require.NoError(t, err, "Server received invalid JSON payload")
		assert.Equal(t, createTestRequest().UserPrompt, payload.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(successPayload(expectedResponseText, expectedPromptTokens, expectedCompletionTokens))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)

	response, err := client.GenerateResponse(context.Background(), createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, expectedResponseText, response)

	require.Equal(t, 1, observedLogs.Len(), "Expected one log entry for successful generation")
	logEntry := observedLogs.All()[0]
	assert.Equal(t, "LLM generation complete (Gemini)", logEntry.Message)
	assert.Equal(t, int64(expectedPromptTokens), logEntry.ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(expectedCompletionTokens), logEntry.ContextMap()["completion_tokens"])
}

// -- Test Cases: Generation - Error Handling & Retries --

func TestGenerateResponse_RetryOnTransientErrors(t *testing.T) {
	var attemptCounter int32
	expectedAttempts := 3

	handler := func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attemptCounter, 1)

		if int(attempt) < expectedAttempts {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service temporarily unavailable."))
		} else {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(successPayload("Success after retry", 0, 0))
		}
	}

	client, _, observedLogs := setupGeminiClient(t, handler)

	// Inject a faster backoff strategy to avoid long wait times.
	client.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 10 * time.Millisecond
		b.MaxElapsedTime = 5 * time.Second
		return b
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := client.GenerateResponse(ctx, createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, "Success after retry", response)
	assert.Equal(t, int32(expectedAttempts), atomic.LoadInt32(&attemptCounter))

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	assert.Equal(t, expectedAttempts-1, errorLogs.Len(), "Expected ERROR logs for the failed attempts")
}

func TestGenerateResponse_RetryOnNetworkError(t *testing.T) {
	client, server, observedLogs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler reached despite server being closed.")
	})

	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Millisecond)
	}

	// Simulate a network error (connection refused).
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := client.GenerateResponse(ctx, createTestRequest())

	assert.Error(t, err)

	// Network errors must be recognized as transient (not PermanentError).
	var permanentErr *backoff.PermanentError
	assert.False(t, errors.As(err, &permanentErr), "Network errors should be treated as transient and retried")

	warnLogs := observedLogs.FilterLevelExact(zap.WarnLevel)
	assert.Greater(t, warnLogs.Len(), 1, "Expected multiple WARN logs for network errors indicating retries")
	assert.Contains(t, warnLogs.All()[0].Message, "Network error during LLM request, retrying...")
}

func TestGenerateResponse_NoRetryOnPermanentErrors(t *testing.T) {
	var attemptCounter int32
	errorBody := "API Key Invalid"

	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(errorBody))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)

	response, err := client.GenerateResponse(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "gemini API error: status 403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Permanent errors must not trigger retries")

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	require.Equal(t, 1, errorLogs.Len())
	logEntry := errorLogs.All()[0]
	assert.Equal(t, "Gemini API returned error status", logEntry.Message)
	assert.Equal(t, int64(403), logEntry.ContextMap()["status"])
	assert.Contains(t, logEntry.ContextMap()["response"], errorBody)
}

func TestGenerateResponse_Failure_SafetyBlock(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		var payload geminiResponsePayload
		payload.Candidates = append(payload.Candidates, struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{
			Content:      geminiContent{Parts: []geminiPart{}},
			FinishReason: "SAFETY",
		})
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(payload)
	}

	client, _, _ := setupGeminiClient(t, handler)

	response, err := client.GenerateResponse(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "gemini API blocked the request (Reason: SAFETY)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Safety blocks must not trigger retries")
}

func TestGenerateResponse_Failure_NoCandidates(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(geminiResponsePayload{})
	}

	client, _, _ := setupGeminiClient(t, handler)

	response, err := client.GenerateResponse(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "gemini API returned no candidates")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "No candidates response must not trigger retries")
}

func TestGenerateResponse_Failure_InvalidJSONResponse(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{invalid json:"))
	}

	client, _, _ := setupGeminiClient(t, handler)

	response, err := client.GenerateResponse(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "failed to decode response payload")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

func TestGenerateResponse_ContextCancellation(t *testing.T) {
	// Handler that always returns a transient error, forcing continuous retries.
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	client, _, _ := setupGeminiClient(t, handler)

	// Long backoff so cancellation lands during the wait.
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	startTime := time.Now()
	response, err := client.GenerateResponse(ctx, createTestRequest())
	duration := time.Since(startTime)

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.True(t, errors.Is(err, context.Canceled), "Error should be context.Canceled, but got: %v", err)
	assert.Less(t, duration, 5*time.Second, "Operation should abort quickly upon cancellation")
}
