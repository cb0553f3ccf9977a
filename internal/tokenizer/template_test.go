package tokenizer

import (
	"errors"
	"strings"
	"testing"
)

const chatmlTemplate = `{% for message in messages %}<|im_start|>{{ message['role'] }}
{{ message['content'] }}<|im_end|>
{% endfor %}{% if add_generation_prompt %}<|im_start|>assistant
{% endif %}`

func TestResolveTemplateDirectWins(t *testing.T) {
	tpl := ResolveTemplate(
		Config{ChatTemplate: chatmlTemplate},
		Config{ChatTemplate: "nested"},
	)
	if tpl.Capability != TemplateDirect {
		t.Fatalf("expected direct capability, got %v", tpl.Capability)
	}
	if tpl.Text != chatmlTemplate {
		t.Fatal("expected processor template text to win")
	}
}

func TestResolveTemplateNested(t *testing.T) {
	tpl := ResolveTemplate(Config{}, Config{ChatTemplate: chatmlTemplate})
	if tpl.Capability != TemplateNested {
		t.Fatalf("expected nested capability, got %v", tpl.Capability)
	}
}

func TestResolveTemplateNone(t *testing.T) {
	tpl := ResolveTemplate(Config{}, Config{})
	if tpl.Capability != TemplateNone {
		t.Fatalf("expected none capability, got %v", tpl.Capability)
	}
}

func TestApplyChatML(t *testing.T) {
	tpl := Template{Capability: TemplateDirect, Text: chatmlTemplate}
	out, err := tpl.Apply([]Message{{Role: "user", Content: "<image>\nWhat are these?"}}, true)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	want := "<|im_start|>user\n<image>\nWhat are these?<|im_end|>\n<|im_start|>assistant\n"
	if out != want {
		t.Fatalf("unexpected render:\ngot:  %q\nwant: %q", out, want)
	}
}

func TestApplyChatMLNoGenerationPrompt(t *testing.T) {
	tpl := Template{Capability: TemplateDirect, Text: chatmlTemplate}
	out, err := tpl.Apply([]Message{{Role: "user", Content: "hi"}}, false)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if strings.HasSuffix(out, "<|im_start|>assistant\n") {
		t.Fatalf("did not expect generation prompt suffix: %q", out)
	}
}

func TestApplyVicuna(t *testing.T) {
	tpl := Template{
		Capability: TemplateNested,
		Text:       `{{ system }} USER: {{ prompt }} ASSISTANT:`,
	}
	out, err := tpl.Apply([]Message{{Role: "user", Content: "describe"}}, true)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !strings.Contains(out, "USER: describe") || !strings.HasSuffix(out, "ASSISTANT:") {
		t.Fatalf("unexpected vicuna render: %q", out)
	}
}

func TestApplyNoneReturnsPromptAndError(t *testing.T) {
	tpl := Template{Capability: TemplateNone}
	out, err := tpl.Apply([]Message{{Role: "user", Content: "raw prompt"}}, true)
	if !errors.Is(err, ErrNoChatTemplate) {
		t.Fatalf("expected ErrNoChatTemplate, got %v", err)
	}
	if out != "raw prompt" {
		t.Fatalf("expected prompt passed through, got %q", out)
	}
}

func TestParseConfigTokenShapes(t *testing.T) {
	t.Run("string token", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`{"eos_token": "</s>", "eos_token_id": 2}`))
		if err != nil {
			t.Fatalf("ParseConfig returned error: %v", err)
		}
		if cfg.EOSToken != "</s>" || cfg.EOSTokenID != 2 {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("object token", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`{"eos_token": {"content": "<|im_end|>"}}`))
		if err != nil {
			t.Fatalf("ParseConfig returned error: %v", err)
		}
		if cfg.EOSToken != "<|im_end|>" {
			t.Fatalf("expected object content, got %q", cfg.EOSToken)
		}
		if cfg.EOSTokenID != -1 {
			t.Fatalf("expected unset id -1, got %d", cfg.EOSTokenID)
		}
	})
}
