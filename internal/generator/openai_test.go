package generator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkEvent(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n\n", content)
}

const stopEvent = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}` + "\n\n"

func TestOpenAIChat_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, chunkEvent("Hello"))
		fmt.Fprint(w, chunkEvent(", world"))
		fmt.Fprint(w, stopEvent)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	chat, err := NewOpenAIChat(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	s, err := chat.Stream(context.Background(), []Message{{Role: RoleSystem, Content: "s"}, {Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	answer, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", answer)
}

func TestOpenAIChat_InterruptedAfterThreeFrames(t *testing.T) {
	tests := []struct {
		name string
		tail string
	}{
		{"connection closed", ""},
		{"done without finish reason", "data: [DONE]\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, d := range []string{"a", "b", "c"} {
					fmt.Fprint(w, chunkEvent(d))
				}
				fmt.Fprint(w, tt.tail)
			}))
			defer srv.Close()

			chat, err := NewOpenAIChat(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
			require.NoError(t, err)

			s, err := chat.Stream(context.Background(), nil)
			require.NoError(t, err)
			answer, err := Collect(s)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.Equal(t, "abc", answer)
		})
	}
}

func TestOpenAIChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	chat, err := NewOpenAIChat(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = chat.Stream(context.Background(), nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestNewOpenAIChat_Validation(t *testing.T) {
	_, err := NewOpenAIChat(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAIChat(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
}
