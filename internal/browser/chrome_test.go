package browser

import (
	"testing"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
)

func TestBlockPatterns(t *testing.T) {
	t.Parallel()

	patterns := blockPatterns([]string{"image", " Stylesheet ", "font", "hologram"})
	assert.Len(t, patterns, 3)

	var got []network.ResourceType
	for _, p := range patterns {
		assert.Equal(t, fetch.RequestStageRequest, p.RequestStage)
		got = append(got, p.ResourceType)
	}
	assert.Equal(t, []network.ResourceType{
		network.ResourceTypeImage,
		network.ResourceTypeStylesheet,
		network.ResourceTypeFont,
	}, got)

	assert.Empty(t, blockPatterns(nil))
}

func TestNewChrome_Defaults(t *testing.T) {
	t.Parallel()

	c := NewChrome(Options{Headless: true})
	assert.Equal(t, 1280, c.opts.ViewportWidth)
	assert.Equal(t, 720, c.opts.ViewportHeight)
	// Closing a browser that never started is a no-op.
	assert.NoError(t, c.Close())
}
