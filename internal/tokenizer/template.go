package tokenizer

import (
	"errors"
	"strings"
)

// ErrNoChatTemplate reports that neither the processor config nor a nested
// tokenizer config carries a chat template. The condition is non-fatal:
// the prompt passes through unformatted, but callers should log it.
var ErrNoChatTemplate = errors.New("no chat template available")

// TemplateCapability says where a chat template was found, resolved once at
// load time instead of probing object attributes at render time.
type TemplateCapability int

const (
	// TemplateNone means no template exists; prompts pass through unformatted.
	TemplateNone TemplateCapability = iota
	// TemplateDirect means the processor's own config carries the template.
	TemplateDirect
	// TemplateNested means the template comes from the nested tokenizer config.
	TemplateNested
)

func (c TemplateCapability) String() string {
	switch c {
	case TemplateDirect:
		return "direct"
	case TemplateNested:
		return "nested"
	default:
		return "none"
	}
}

// Message is one chat turn handed to the template.
type Message struct {
	Role    string
	Content string
}

// Template pairs a resolved capability with the template text.
type Template struct {
	Capability TemplateCapability
	Text       string
}

// ResolveTemplate picks the chat template: the processor config's own
// template wins, then the nested tokenizer config's, then none.
func ResolveTemplate(processorCfg, nestedCfg Config) Template {
	if t := strings.TrimSpace(processorCfg.ChatTemplate); t != "" {
		return Template{Capability: TemplateDirect, Text: t}
	}
	if t := strings.TrimSpace(nestedCfg.ChatTemplate); t != "" {
		return Template{Capability: TemplateNested, Text: t}
	}
	return Template{Capability: TemplateNone}
}

// Apply renders messages through the resolved template. With TemplateNone
// the last message's content is returned unchanged together with
// ErrNoChatTemplate so the caller can decide how loudly to complain.
//
// Rendering recognizes the template dialect by its markers rather than
// interpreting the full Jinja program: ChatML ("<|im_start|>") and
// Vicuna-style ("USER:"/"ASSISTANT:") cover the supported model families,
// with ChatML as the default for anything unrecognized.
func (t Template) Apply(messages []Message, addGenerationPrompt bool) (string, error) {
	if t.Capability == TemplateNone {
		return lastContent(messages), ErrNoChatTemplate
	}
	if strings.Contains(t.Text, "USER:") || strings.Contains(t.Text, "ASSISTANT:") {
		return renderVicuna(messages, addGenerationPrompt), nil
	}
	return renderChatML(messages, addGenerationPrompt), nil
}

func renderChatML(messages []Message, addGenerationPrompt bool) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteByte('\n')
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	if addGenerationPrompt {
		sb.WriteString("<|im_start|>assistant\n")
	}
	return sb.String()
}

func renderVicuna(messages []Message, addGenerationPrompt bool) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		case "assistant":
			sb.WriteString("ASSISTANT: ")
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		default:
			sb.WriteString("USER: ")
			sb.WriteString(m.Content)
			sb.WriteByte('\n')
		}
	}
	if addGenerationPrompt {
		sb.WriteString("ASSISTANT:")
	}
	return sb.String()
}

func lastContent(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}
