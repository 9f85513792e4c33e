package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTranscript(t *testing.T) {
	html := `<html><head><title>Chat</title><style>.x{}</style></head>
<body>
  <h1>Chat</h1>
  <div class="msg"><strong>You:</strong> Hello, world!</div>
  <div class="msg"><strong>AI:</strong> Hi! How can I help?</div>
  <script>window.secret = 1</script>
  <div hidden>draft</div>
</body></html>`

	out, err := RenderTranscript(html, "http://localhost:3000")
	require.NoError(t, err)

	assert.Contains(t, out, "# Chat")
	assert.Contains(t, out, "**You:** Hello, world!")
	assert.Contains(t, out, "**AI:** Hi! How can I help?")
	assert.NotContains(t, out, "window.secret")
	assert.NotContains(t, out, "draft")
}

func TestRenderTranscript_EmptyBody(t *testing.T) {
	out, err := RenderTranscript(`<html><body></body></html>`, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}
