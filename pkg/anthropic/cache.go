package anthropic

// BuildCachedSystemBlocks wraps a system prompt in a single block with a
// 1-hour cache breakpoint, so repeated calls with the same instructions hit
// the prompt cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}
