package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanqinglian/aihelper-rag/internal/retriever"
	"github.com/tanqinglian/aihelper-rag/internal/storage"
)

func TestBuildMessages(t *testing.T) {
	candidates := []retriever.Candidate{
		{Chunk: &storage.Chunk{Path: "a/Login.jsx", Module: "a", Content: "login handler"}},
		{Chunk: &storage.Chunk{Path: "b/Logout.jsx", Module: "b", Content: "logout handler"}},
	}

	msgs := BuildMessages("find the login code", candidates)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, SystemPrompt, msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "Retrieved code:\n\n"+
		"--- file 1: a/Login.jsx (module: a) ---\nlogin handler\n\n"+
		"--- file 2: b/Logout.jsx (module: b) ---\nlogout handler\n\n"+
		"---\n\nQuestion: find the login code", msgs[1].Content)
}

func TestBuildMessages_CapsPreview(t *testing.T) {
	long := strings.Repeat("字", PreviewChars+100)
	msgs := BuildMessages("q", []retriever.Candidate{{Chunk: &storage.Chunk{Path: "x.js", Module: "x.js", Content: long}}})

	body := strings.TrimPrefix(msgs[1].Content, "Retrieved code:\n\n--- file 1: x.js (module: x.js) ---\n")
	body = strings.TrimSuffix(body, "\n\n---\n\nQuestion: q")
	assert.Equal(t, PreviewChars, len([]rune(body)))
}

// sliceStream replays fixed deltas, then err.
type sliceStream struct {
	deltas []string
	i      int
	err    error
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.deltas) {
		return false
	}
	s.i++
	return true
}
func (s *sliceStream) Delta() string { return s.deltas[s.i-1] }
func (s *sliceStream) Err() error {
	if s.i >= len(s.deltas) {
		return s.err
	}
	return nil
}
func (s *sliceStream) Close() error { s.closed = true; return nil }

func TestCollect(t *testing.T) {
	s := &sliceStream{deltas: []string{"a", "b", "c"}}
	answer, err := Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "abc", answer)
	assert.True(t, s.closed)

	s = &sliceStream{deltas: []string{"partial"}, err: ErrGenerationFailed}
	answer, err = Collect(s)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, "partial", answer)
}
