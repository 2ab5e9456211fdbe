package modelpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(name string, keys ...Key) *Entry {
	if len(keys) == 0 {
		keys = []Key{{Key: name + "-key", Weight: 1, RateLimit: 60}}
	}
	return &Entry{
		Name:               name,
		ModelName:          modelType(name),
		Style:              StyleOpenAICompat,
		MaxTokens:          DefaultMaxTokens,
		TemperatureDefault: DefaultTemperature,
		Keys:               keys,
	}
}

func TestNewPool_Empty(t *testing.T) {
	_, err := NewPool()
	assert.Error(t, err)
}

func TestPickLarge(t *testing.T) {
	assert.Empty(t, PickLarge(nil))

	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"a/kimi-k2-turbo", "b/deepseek-chat", "c/DeepSeek-R1"}, "c/DeepSeek-R1"},
		{[]string{"a/kimi-k2-turbo", "siliconflow/Pro/deepseek-ai/DeepSeek-V3"}, "siliconflow/Pro/deepseek-ai/DeepSeek-V3"},
		{[]string{"x/deepseek-reasoner", "y/deepseek-chat"}, "x/deepseek-reasoner"},
		{[]string{"new_api/kimi-k2-turbo-preview", "z/qwen"}, "new_api/kimi-k2-turbo-preview"},
		{[]string{"z/qwen", "a/glm"}, "a/glm"},
	}
	for _, tt := range tests {
		var es []*Entry
		for _, n := range tt.names {
			es = append(es, entry(n))
		}
		p, err := NewPool(es...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, PickLarge(p))
	}
}

func TestPool_RandomAndNames(t *testing.T) {
	p, err := NewPool(entry("b/two"), entry("a/one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "b/two"}, p.Names())
	assert.Equal(t, 2, p.Len())

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[p.Random()] = true
	}
	assert.Len(t, seen, 2)
}

func TestActiveModels(t *testing.T) {
	custom := entry("p/custom")
	custom.DisplayName = "Custom"
	p, err := NewPool(
		entry("siliconflow/Pro/deepseek-ai/DeepSeek-V3"),
		entry("new_api_aliyun/kimi-k2-turbo-preview"),
		entry("openai/gpt-4o-mini"),
		custom,
	)
	require.NoError(t, err)

	models := p.ActiveModels()
	require.Len(t, models, 4)
	byValue := map[string]ModelInfo{}
	for _, m := range models {
		byValue[m.Value] = m
	}
	assert.Equal(t, "Kimi K2 Turbo", byValue["new_api_aliyun/kimi-k2-turbo-preview"].Name)
	assert.Equal(t, "DeepSeek V3", byValue["siliconflow/Pro/deepseek-ai/DeepSeek-V3"].Name)
	assert.Equal(t, "gpt-4o-mini", byValue["openai/gpt-4o-mini"].Name)
	assert.Equal(t, "General-purpose AI model", byValue["openai/gpt-4o-mini"].Description)
	assert.Equal(t, "Custom", byValue["p/custom"].Name)
	assert.Equal(t, DefaultMaxTokens, byValue["p/custom"].MaxTokens)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "********", MaskKey("short"))
	assert.Equal(t, "sk-1****wxyz", MaskKey("sk-1abcdwxyz"))
}
