package store

import (
	"encoding/json"
	"fmt"

	"github.com/chatforge/backend/pkg/provider/types"
)

// contentEnvelope is the on-the-wire JSON shape persisted for each
// types.ContentPart: a type tag alongside the part's own fields, so
// unmarshalContent can reconstruct the concrete Go type the part was
// before encoding. types.ContentPart has no tag field of its own (it is
// a plain interface over five concrete structs), so the tag has to live
// in the envelope rather than the struct.
type contentEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// marshalContent encodes a message's content parts for the messages
// table's content jsonb column.
func marshalContent(parts []types.ContentPart) ([]byte, error) {
	envelopes := make([]contentEnvelope, len(parts))
	for i, p := range parts {
		data, err := encodeContentPart(p)
		if err != nil {
			return nil, fmt.Errorf("marshal content part %d (%s): %w", i, p.ContentType(), err)
		}
		envelopes[i] = contentEnvelope{Type: p.ContentType(), Data: data}
	}
	return json.Marshal(envelopes)
}

// encodeContentPart marshals a single part's fields. ToolResultContent
// needs special handling because its Output.Content holds
// ToolResultContentBlock interface values, which plain json.Marshal
// would serialize untagged and decodeToolResultContentBlock could never
// tell apart again.
func encodeContentPart(p types.ContentPart) (json.RawMessage, error) {
	tr, ok := p.(types.ToolResultContent)
	if !ok {
		return json.Marshal(p)
	}

	wire := toolResultContentWire{
		ToolCallID: tr.ToolCallID,
		ToolName:   tr.ToolName,
		Result:     tr.Result,
		Error:      tr.Error,
	}
	if tr.Output != nil {
		blocks := make([]contentEnvelope, len(tr.Output.Content))
		for i, b := range tr.Output.Content {
			data, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("marshal tool result content block %d: %w", i, err)
			}
			blocks[i] = contentEnvelope{Type: b.ToolResultContentType(), Data: data}
		}
		wire.Output = &toolResultOutputWire{Type: tr.Output.Type, Value: tr.Output.Value, Content: blocks}
	}
	return json.Marshal(wire)
}

// unmarshalContent decodes the messages table's content jsonb column
// back into the concrete types.ContentPart implementation each part
// was encoded from, keyed on the envelope's Type tag. An unrecognized
// tag (a future content type introduced by a schema the binary doesn't
// yet know about) is kept as a FileContent-shaped fallback carrying the
// raw bytes, rather than dropping the part or failing the whole read.
func unmarshalContent(raw []byte) ([]types.ContentPart, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var envelopes []contentEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("unmarshal content envelopes: %w", err)
	}

	parts := make([]types.ContentPart, len(envelopes))
	for i, e := range envelopes {
		part, err := decodeContentPart(e)
		if err != nil {
			return nil, fmt.Errorf("decode content part %d: %w", i, err)
		}
		parts[i] = part
	}
	return parts, nil
}

func decodeContentPart(e contentEnvelope) (types.ContentPart, error) {
	switch e.Type {
	case "text":
		var v types.TextContent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "reasoning":
		var v types.ReasoningContent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "image":
		var v types.ImageContent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "file":
		var v types.FileContent
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool-result":
		var v toolResultContentWire
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		output, err := decodeToolResultOutput(v.Output)
		if err != nil {
			return nil, err
		}
		return types.ToolResultContent{
			ToolCallID: v.ToolCallID,
			ToolName:   v.ToolName,
			Result:     v.Result,
			Error:      v.Error,
			Output:     output,
		}, nil
	default:
		return types.FileContent{Data: e.Data, MimeType: "application/octet-stream", Filename: "unknown-content-type:" + e.Type}, nil
	}
}

// toolResultContentWire mirrors types.ToolResultContent but with Output
// left as a pointer to the wire form so its Content blocks can be
// re-tagged the same way top-level content parts are.
type toolResultContentWire struct {
	ToolCallID string                `json:"toolCallId"`
	ToolName   string                `json:"toolName"`
	Result     interface{}           `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	Output     *toolResultOutputWire `json:"output,omitempty"`
}

type toolResultOutputWire struct {
	Type    types.ToolResultOutputType `json:"type"`
	Value   interface{}                `json:"value,omitempty"`
	Content []contentEnvelope          `json:"content,omitempty"`
}

func decodeToolResultOutput(w *toolResultOutputWire) (*types.ToolResultOutput, error) {
	if w == nil {
		return nil, nil
	}
	blocks := make([]types.ToolResultContentBlock, len(w.Content))
	for i, e := range w.Content {
		block, err := decodeToolResultContentBlock(e)
		if err != nil {
			return nil, fmt.Errorf("decode tool result content block %d: %w", i, err)
		}
		blocks[i] = block
	}
	return &types.ToolResultOutput{Type: w.Type, Value: w.Value, Content: blocks}, nil
}

func decodeToolResultContentBlock(e contentEnvelope) (types.ToolResultContentBlock, error) {
	switch e.Type {
	case "text":
		var v types.TextContentBlock
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "image":
		var v types.ImageContentBlock
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "file":
		var v types.FileContentBlock
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "custom":
		var v types.CustomContentBlock
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return types.CustomContentBlock{ProviderOptions: map[string]interface{}{"unknown_type": e.Type}}, nil
	}
}
