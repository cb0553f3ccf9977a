package tokenizer

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Config carries the fields of tokenizer_config.json this tool relies on.
type Config struct {
	ChatTemplate string
	EOSToken     string
	BOSToken     string
	EOSTokenID   int32
}

// rawTokenizerConfig tolerates the two shapes special tokens take on disk:
// a bare string or an added-token object with a "content" field.
type rawTokenizerConfig struct {
	ChatTemplate string `json:"chat_template"`
	EOSToken     any    `json:"eos_token"`
	BOSToken     any    `json:"bos_token"`
	EOSTokenID   *int32 `json:"eos_token_id"`
}

// ParseConfig decodes tokenizer_config.json bytes.
func ParseConfig(data []byte) (Config, error) {
	var raw rawTokenizerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse tokenizer config: %w", err)
	}
	cfg := Config{
		ChatTemplate: raw.ChatTemplate,
		EOSToken:     tokenContent(raw.EOSToken),
		BOSToken:     tokenContent(raw.BOSToken),
		EOSTokenID:   -1,
	}
	if raw.EOSTokenID != nil {
		cfg.EOSTokenID = *raw.EOSTokenID
	}
	return cfg, nil
}

func tokenContent(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	return ""
}
